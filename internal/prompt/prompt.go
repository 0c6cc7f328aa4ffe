// Package prompt builds the chat conversation sent to a vision-language model
// for image analysis and for WAN 2.2 video prompt generation.
package prompt

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

// Mode selects what the model is asked to produce.
type Mode string

const (
	ModeAnalyze     Mode = "analyze"
	ModeVideoPrompt Mode = "generate_video_prompt"
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is a piece of message content: text, or an image with its MIME type.
type Part struct {
	Type  PartType
	Text  string
	Image []byte
	MIME  string
}

type Message struct {
	Role  Role
	Parts []Part
}

// Text concatenates the text parts of m.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Conversation is an ordered list of messages: system first, then the user
// turn holding the image followed by the text.
type Conversation struct {
	Mode     Mode
	Language Language
	Messages []Message
}

// System returns the system prompt, or "" if there is none.
func (c Conversation) System() string {
	for _, m := range c.Messages {
		if m.Role == RoleSystem {
			return m.Text()
		}
	}
	return ""
}

// User returns the last user message.
func (c Conversation) User() Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i]
		}
	}
	return Message{}
}

// Input is everything the composer needs. A nil Metadata means the image
// carried no generation metadata. A nil Style means the default style; a nil
// Sections means every section while an empty non-nil one means free format.
type Input struct {
	Mode        Mode
	Image       []byte
	ImageMIME   string
	Metadata    *types.ImageMetadata
	Language    string
	Style       *string
	Sections    []string
	Instruction string
}

// Defaults are the sampling settings a mode uses when neither the request
// nor the preset chooses.
type Defaults struct {
	Temperature float64
	MaxTokens   int
}

// ModeDefaults returns the fallback sampling settings of mode.
func ModeDefaults(mode Mode) Defaults {
	if mode == ModeVideoPrompt {
		return Defaults{Temperature: 0.7, MaxTokens: 1024}
	}
	return Defaults{Temperature: 0.7, MaxTokens: 512}
}

// ParseLanguage accepts the display names and short codes of the supported
// output languages. Empty means English.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "english", "en":
		return English, nil
	case "日本語", "japanese", "ja":
		return Japanese, nil
	}
	return "", errs.Invalid("compose", "language", fmt.Sprintf("unsupported language %q", s))
}

// ParseStyle resolves a style; nil selects DefaultStyle and "" means none.
func ParseStyle(s *string) (Style, error) {
	if s == nil {
		return DefaultStyle, nil
	}
	st := Style(strings.ToLower(strings.TrimSpace(*s)))
	if st == "" || st == StyleNone {
		return StyleNone, nil
	}
	if _, ok := styleHints[st]; !ok {
		return "", errs.Invalid("compose", "style", fmt.Sprintf("unknown style %q", *s))
	}
	return st, nil
}

// ParseSections validates names and returns them in output order without
// duplicates. nil yields DefaultSections.
func ParseSections(names []string) ([]Section, error) {
	if names == nil {
		return append([]Section(nil), DefaultSections...), nil
	}
	want := make(map[Section]bool, len(names))
	for _, n := range names {
		s := Section(strings.ToLower(strings.TrimSpace(n)))
		if _, ok := sectionTemplates[English][s]; !ok {
			return nil, errs.Invalid("compose", "sections", fmt.Sprintf("unknown section %q", n))
		}
		want[s] = true
	}
	out := make([]Section, 0, len(want))
	for _, s := range DefaultSections {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// Compose builds the conversation for in. It has no side effects.
func Compose(in Input) (Conversation, error) {
	if len(in.Image) == 0 {
		return Conversation{}, errs.Invalid("compose", "image", "an image is required")
	}
	lang, err := ParseLanguage(in.Language)
	if err != nil {
		return Conversation{}, err
	}
	mime := in.ImageMIME
	if mime == "" {
		mime = http.DetectContentType(in.Image)
	}
	if !strings.HasPrefix(mime, "image/") {
		return Conversation{}, errs.Invalid("compose", "image", fmt.Sprintf("unsupported image type %q", mime))
	}

	var system, user string
	switch in.Mode {
	case ModeAnalyze:
		system, user = composeAnalyze(in, wordings[lang])
	case ModeVideoPrompt:
		style, err := ParseStyle(in.Style)
		if err != nil {
			return Conversation{}, err
		}
		sections, err := ParseSections(in.Sections)
		if err != nil {
			return Conversation{}, err
		}
		system, user = composeVideo(in, lang, style, sections)
	default:
		return Conversation{}, errs.Invalid("compose", "mode", fmt.Sprintf("unknown mode %q", in.Mode))
	}

	return Conversation{
		Mode:     in.Mode,
		Language: lang,
		Messages: []Message{
			{Role: RoleSystem, Parts: []Part{{Type: PartText, Text: system}}},
			{Role: RoleUser, Parts: []Part{
				{Type: PartImage, Image: in.Image, MIME: mime},
				{Type: PartText, Text: user},
			}},
		},
	}, nil
}

// hasMetadata reports whether any generation metadata field is set.
func hasMetadata(md *types.ImageMetadata) bool {
	if md == nil {
		return false
	}
	return strings.TrimSpace(md.PositivePrompt) != "" || strings.TrimSpace(md.NegativePrompt) != "" ||
		len(md.Parameters) > 0 || strings.TrimSpace(md.SourceTool) != ""
}

func sdPrompt(md *types.ImageMetadata) string {
	if md == nil {
		return ""
	}
	return strings.TrimSpace(md.PositivePrompt)
}

func composeAnalyze(in Input, w wording) (string, string) {
	question := strings.TrimSpace(in.Instruction)
	if question == "" {
		question = w.defaultQuestion
	}
	if !hasMetadata(in.Metadata) {
		return w.analyzeSystemPlain, w.question + question
	}
	var b strings.Builder
	if positive := sdPrompt(in.Metadata); positive != "" {
		b.WriteString(w.originalPrompt)
		b.WriteString(positive)
	}
	if neg := strings.TrimSpace(in.Metadata.NegativePrompt); neg != "" {
		b.WriteString(w.negativePrompt)
		b.WriteString(neg)
	}
	if p := formatParameters(in.Metadata.Parameters); p != "" {
		b.WriteString(w.parameters)
		b.WriteString(p)
	}
	header := strings.TrimLeft(b.String(), "\n")
	if header == "" {
		// only the source tool is known
		return w.analyzeSystemSD, w.question + question
	}
	return w.analyzeSystemSD, header + "\n\n" + w.question + question
}

func composeVideo(in Input, lang Language, style Style, sections []Section) (string, string) {
	w := wordings[lang]
	format := w.freeFormat
	if len(sections) > 0 {
		blocks := make([]string, len(sections))
		for i, s := range sections {
			blocks[i] = sectionTemplates[lang][s]
		}
		format = strings.Join(blocks, "\n\n")
	}

	var b strings.Builder
	positive := sdPrompt(in.Metadata)
	switch {
	case positive != "":
		b.WriteString(w.sdPrompt)
		b.WriteString(positive)
	case !hasMetadata(in.Metadata):
		b.WriteString(w.generalImage)
	}
	if hint, ok := styleHints[style]; ok {
		b.WriteString(w.styleDirection)
		b.WriteString(hint)
	}
	if extra := strings.TrimSpace(in.Instruction); extra != "" {
		// without an SD prompt the instruction is the main guidance
		if positive != "" {
			b.WriteString(w.additional)
		} else {
			b.WriteString(w.userOnly)
		}
		b.WriteString(extra)
	}
	b.WriteString(w.closing)
	return w.videoSystem + format, strings.TrimLeft(b.String(), "\n")
}

// formatParameters renders settings as "key: value" pairs in key order.
func formatParameters(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %v", k, params[k])
	}
	return strings.Join(parts, ", ")
}

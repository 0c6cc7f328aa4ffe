package sdmeta

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

const (
	ToolAutomatic1111 = "automatic1111"
	ToolComfyUI       = "comfyui"
	ToolUnknown       = "unknown"
)

// textKeys are the chunk keywords that may carry A1111 style parameters, in
// lookup order.
var textKeys = []string{"parameters", "Parameters", "Description", "UserComment"}

var (
	settingsLine = regexp.MustCompile(`^\s*(Steps|Seed|Size|Model|CFG scale|Sampler)\s*:`)
	settingPair  = regexp.MustCompile(`\s*([\w ]+):\s*("(?:\\.|[^\\"])+"|[^,]*)(?:,|$)`)
)

// Extract reads an image and returns its generation metadata, or nil when the
// image is not a PNG or carries none.
func Extract(r io.Reader) (*types.ImageMetadata, error) {
	chunks, err := ReadTextChunks(r)
	if errors.Is(err, ErrNotPNG) {
		return nil, nil
	}
	if err != nil && len(chunks) == 0 {
		return nil, err
	}
	return FromChunks(chunks), nil
}

// FromChunks interprets PNG text chunks. A1111 parameters take precedence over
// a ComfyUI graph.
func FromChunks(chunks map[string]string) *types.ImageMetadata {
	for _, k := range textKeys {
		v, ok := chunks[k]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		md := ParseA1111(v)
		if k == "parameters" || k == "Parameters" {
			md.SourceTool = ToolAutomatic1111
		}
		return md
	}
	graph, hasGraph := chunks["prompt"]
	if hasGraph {
		if md := parseComfyPrompt(graph); md != nil {
			return md
		}
	}
	if _, ok := chunks["workflow"]; ok || hasGraph {
		return &types.ImageMetadata{SourceTool: ToolComfyUI}
	}
	return nil
}

// ParseA1111 splits "positive\nNegative prompt: ...\nSteps: 20, Sampler: ..."
// into its parts. Text without a settings line is all positive prompt.
func ParseA1111(text string) *types.ImageMetadata {
	md := &types.ImageMetadata{SourceTool: ToolUnknown}
	var positive, negative []string
	inNegative := false
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		switch {
		case settingsLine.MatchString(line):
			md.Parameters = parseSettings(line)
			inNegative = false
		case strings.HasPrefix(strings.TrimSpace(line), "Negative prompt:"):
			inNegative = true
			negative = append(negative, strings.TrimPrefix(strings.TrimSpace(line), "Negative prompt:"))
		case inNegative:
			negative = append(negative, line)
		default:
			positive = append(positive, line)
		}
	}
	md.PositivePrompt = strings.TrimSpace(strings.Join(positive, "\n"))
	md.NegativePrompt = strings.TrimSpace(strings.Join(negative, "\n"))
	return md
}

func parseSettings(line string) map[string]any {
	out := map[string]any{}
	for _, m := range settingPair.FindAllStringSubmatch(line, -1) {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(m[1]), " ", "_"))
		if key == "" {
			continue
		}
		out[key] = settingValue(strings.TrimSpace(m[2]))
	}
	return out
}

func settingValue(s string) any {
	if len(s) >= 2 && s[0] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

type comfyNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// parseComfyPrompt follows the sampler's positive and negative inputs to the
// text encoders of a ComfyUI prompt graph.
func parseComfyPrompt(raw string) *types.ImageMetadata {
	var graph map[string]comfyNode
	if err := json.Unmarshal([]byte(raw), &graph); err != nil {
		return nil
	}
	md := &types.ImageMetadata{SourceTool: ToolComfyUI}
	for _, n := range graph {
		pos, okPos := n.Inputs["positive"]
		neg, okNeg := n.Inputs["negative"]
		if !okPos || !okNeg {
			continue
		}
		md.PositivePrompt = linkedText(graph, pos)
		md.NegativePrompt = linkedText(graph, neg)
		params := map[string]any{}
		for _, k := range []string{"seed", "steps", "cfg", "sampler_name", "scheduler", "denoise"} {
			if v, ok := n.Inputs[k]; ok {
				if _, isLink := v.([]any); !isLink {
					params[k] = comfyValue(v)
				}
			}
		}
		if len(params) > 0 {
			md.Parameters = params
		}
		if md.PositivePrompt != "" {
			return md
		}
	}
	// no sampler wiring; take the first text encoder
	for _, n := range graph {
		if strings.HasPrefix(n.ClassType, "CLIPTextEncode") {
			if s, ok := n.Inputs["text"].(string); ok && s != "" {
				md.PositivePrompt = s
				return md
			}
		}
	}
	return nil
}

// linkedText resolves a ["node", slot] link to the node's text input.
func linkedText(graph map[string]comfyNode, link any) string {
	ref, ok := link.([]any)
	if !ok || len(ref) == 0 {
		return ""
	}
	id, ok := ref[0].(string)
	if !ok {
		return ""
	}
	if s, ok := graph[id].Inputs["text"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// comfyValue turns whole JSON numbers into ints.
func comfyValue(v any) any {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int(f)
	}
	return v
}

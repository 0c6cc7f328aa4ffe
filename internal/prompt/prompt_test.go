package prompt

import (
	"strings"
	"testing"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func strp(s string) *string { return &s }

func sdMeta() *types.ImageMetadata {
	return &types.ImageMetadata{
		PositivePrompt: "1girl, wheat field, golden hour",
		NegativePrompt: "lowres",
		Parameters:     map[string]any{"steps": 20, "cfg_scale": 7.0},
		SourceTool:     "automatic1111",
	}
}

func mustCompose(t *testing.T, in Input) Conversation {
	t.Helper()
	c, err := Compose(in)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	return c
}

func TestCompose_Shape(t *testing.T) {
	c := mustCompose(t, Input{Mode: ModeAnalyze, Image: pngBytes})
	if len(c.Messages) != 2 || c.Messages[0].Role != RoleSystem || c.Messages[1].Role != RoleUser {
		t.Fatalf("unexpected roles: %+v", c.Messages)
	}
	parts := c.User().Parts
	if len(parts) != 2 || parts[0].Type != PartImage || parts[1].Type != PartText {
		t.Fatalf("user turn must be image then text: %+v", parts)
	}
	if parts[0].MIME != "image/png" {
		t.Fatalf("sniffed mime=%q", parts[0].MIME)
	}
}

func TestCompose_AnalyzeWithoutMetadata(t *testing.T) {
	c := mustCompose(t, Input{Mode: ModeAnalyze, Image: pngBytes})
	if got := c.User().Text(); got != "Question: Describe this image in detail." {
		t.Fatalf("user text=%q", got)
	}
	if strings.Contains(c.System(), "Stable Diffusion") {
		t.Fatalf("system prompt kept SD framing without metadata: %q", c.System())
	}
	// metadata with every field empty counts as absent
	c = mustCompose(t, Input{Mode: ModeAnalyze, Image: pngBytes, Metadata: &types.ImageMetadata{}, Instruction: "What colors?"})
	if got := c.User().Text(); got != "Question: What colors?" {
		t.Fatalf("user text=%q", got)
	}
}

func TestCompose_AnalyzeWithMetadata(t *testing.T) {
	c := mustCompose(t, Input{Mode: ModeAnalyze, Image: pngBytes, Metadata: sdMeta(), Instruction: "Does it match the prompt?"})
	want := "Original prompt:\n1girl, wheat field, golden hour\n\nNegative prompt:\nlowres\n\nParameters: cfg_scale: 7, steps: 20\n\nQuestion: Does it match the prompt?"
	if got := c.User().Text(); got != want {
		t.Fatalf("user text:\n%q\nwant\n%q", got, want)
	}
	if !strings.Contains(c.System(), "Stable Diffusion") {
		t.Fatalf("system=%q", c.System())
	}
}

func TestCompose_MetadataWithoutPositivePrompt(t *testing.T) {
	md := &types.ImageMetadata{NegativePrompt: "lowres", Parameters: map[string]any{"steps": 20}}
	c := mustCompose(t, Input{Mode: ModeAnalyze, Image: pngBytes, Metadata: md, Instruction: "Any artifacts?"})
	want := "Negative prompt:\nlowres\n\nParameters: steps: 20\n\nQuestion: Any artifacts?"
	if got := c.User().Text(); got != want {
		t.Fatalf("user text:\n%q\nwant\n%q", got, want)
	}
	if !strings.Contains(c.System(), "Stable Diffusion") {
		t.Fatalf("metadata present but system prompt is plain: %q", c.System())
	}

	c = mustCompose(t, Input{Mode: ModeAnalyze, Image: pngBytes, Metadata: &types.ImageMetadata{SourceTool: "comfyui"}})
	if got := c.User().Text(); got != "Question: Describe this image in detail." || !strings.Contains(c.System(), "Stable Diffusion") {
		t.Fatalf("source tool only: system=%q user=%q", c.System(), got)
	}

	c = mustCompose(t, Input{Mode: ModeVideoPrompt, Image: pngBytes, Metadata: md, Style: strp("none"), Sections: []string{}})
	if user := c.User().Text(); strings.Contains(user, "general image") || strings.HasPrefix(user, "\n") {
		t.Fatalf("video user text=%q", user)
	}
}

func TestCompose_AnalyzeJapanese(t *testing.T) {
	c := mustCompose(t, Input{Mode: ModeAnalyze, Image: pngBytes, Metadata: &types.ImageMetadata{PositivePrompt: "cat"}, Instruction: "評価して", Language: "日本語"})
	if c.System() != "あなたは画像分析の専門家です。Stable Diffusionで生成された画像とそのプロンプトを評価してください。" {
		t.Fatalf("system=%q", c.System())
	}
	if got := c.User().Text(); got != "元のプロンプト:\ncat\n\n質問: 評価して" {
		t.Fatalf("user=%q", got)
	}
}

func TestCompose_VideoDefaults(t *testing.T) {
	c := mustCompose(t, Input{Mode: ModeVideoPrompt, Image: pngBytes, Metadata: sdMeta()})
	sys := c.System()
	for _, s := range []string{"**Scene**", "**Action**", "**Camera**", "**Style**", "**Final Prompt for WAN 2.2**"} {
		if !strings.Contains(sys, s) {
			t.Fatalf("default sections missing %s", s)
		}
	}
	user := c.User().Text()
	if !strings.HasPrefix(user, "Original SD Prompt:\n1girl, wheat field, golden hour") {
		t.Fatalf("user=%q", user)
	}
	if !strings.Contains(user, "Style Direction: "+styleHints[StyleCinematic]) {
		t.Fatalf("default style must be cinematic: %q", user)
	}
	if !strings.HasSuffix(user, "Please generate a WAN 2.2 video prompt based on this image and information.") {
		t.Fatalf("closing missing: %q", user)
	}
}

func TestCompose_VideoWithoutSDPrompt(t *testing.T) {
	c := mustCompose(t, Input{Mode: ModeVideoPrompt, Image: pngBytes, Style: strp("none"), Sections: []string{}, Instruction: "slow zoom"})
	want := "This is a general image (not from Stable Diffusion).\n\nUser Instructions (IMPORTANT - follow these closely): slow zoom\n\nPlease generate a WAN 2.2 video prompt based on this image and information."
	if got := c.User().Text(); got != want {
		t.Fatalf("user=%q", got)
	}
	if !strings.HasSuffix(c.System(), "Output in a free format.") {
		t.Fatalf("empty sections must be free format: %q", c.System())
	}
}

func TestCompose_VideoSectionsOrderedAndJapanese(t *testing.T) {
	c := mustCompose(t, Input{Mode: ModeVideoPrompt, Image: pngBytes, Metadata: sdMeta(), Language: "ja",
		Style: strp("calm"), Sections: []string{"prompt", "scene", "scene"}, Instruction: "風"})
	sys := c.System()
	if strings.Contains(sys, "**アクション**") {
		t.Fatalf("unselected section present")
	}
	if strings.Index(sys, "**シーン**") > strings.Index(sys, "**WAN 2.2用プロンプト**") {
		t.Fatalf("sections not in output order")
	}
	if strings.Count(sys, "**シーン**") != 1 {
		t.Fatalf("duplicate section rendered")
	}
	user := c.User().Text()
	if !strings.Contains(user, "Additional Instructions: 風") || !strings.Contains(user, styleHints[StyleCalm]) {
		t.Fatalf("user=%q", user)
	}
	if !strings.HasSuffix(user, "日本語で生成してください。") {
		t.Fatalf("closing must request Japanese output: %q", user)
	}
}

func TestCompose_ValidationErrors(t *testing.T) {
	cases := map[string]Input{
		"no image":  {Mode: ModeAnalyze},
		"mode":      {Mode: "summarize", Image: pngBytes},
		"style":     {Mode: ModeVideoPrompt, Image: pngBytes, Style: strp("noir")},
		"section":   {Mode: ModeVideoPrompt, Image: pngBytes, Sections: []string{"audio"}},
		"language":  {Mode: ModeAnalyze, Image: pngBytes, Language: "Klingon"},
		"not image": {Mode: ModeAnalyze, Image: []byte("plain text"), ImageMIME: "text/plain"},
	}
	for name, in := range cases {
		if _, err := Compose(in); !errs.IsInvalid(err) {
			t.Fatalf("%s: expected invalid error, got %v", name, err)
		}
	}
}

func TestModeDefaults(t *testing.T) {
	if d := ModeDefaults(ModeVideoPrompt); d.MaxTokens != 1024 || d.Temperature != 0.7 {
		t.Fatalf("video defaults %+v", d)
	}
	if d := ModeDefaults(ModeAnalyze); d.MaxTokens != 512 {
		t.Fatalf("analyze defaults %+v", d)
	}
}

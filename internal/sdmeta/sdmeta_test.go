package sdmeta

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/png"
	"testing"
)

func chunk(typ string, data []byte) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.BigEndian, uint32(len(data)))
	b.WriteString(typ)
	b.Write(data)
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	_ = binary.Write(&b, binary.BigEndian, crc.Sum32())
	return b.Bytes()
}

func deflate(t *testing.T, s string) []byte {
	t.Helper()
	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	_, _ = w.Write([]byte(s))
	_ = w.Close()
	return b.Bytes()
}

// pngWith encodes a 1x1 PNG and inserts chunks right after IHDR.
func pngWith(t *testing.T, chunks ...[]byte) []byte {
	t.Helper()
	var b bytes.Buffer
	if err := png.Encode(&b, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw := b.Bytes()
	cut := 8 + 8 + 13 + 4 // signature + IHDR
	out := append([]byte(nil), raw[:cut]...)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return append(out, raw[cut:]...)
}

const a1111 = "masterpiece, 1girl, wheat field\ngolden hour\nNegative prompt: lowres, bad hands\nSteps: 28, Sampler: DPM++ 2M Karras, CFG scale: 6.5, Seed: 1234, Size: 832x1216, Model: animagine, Lora hashes: \"a: 1, b: 2\""

func TestExtract_A1111Text(t *testing.T) {
	img := pngWith(t, chunk("tEXt", append([]byte("parameters\x00"), a1111...)))
	md, err := Extract(bytes.NewReader(img))
	if err != nil || md == nil {
		t.Fatalf("md=%v err=%v", md, err)
	}
	if md.SourceTool != ToolAutomatic1111 {
		t.Fatalf("tool=%q", md.SourceTool)
	}
	if md.PositivePrompt != "masterpiece, 1girl, wheat field\ngolden hour" {
		t.Fatalf("positive=%q", md.PositivePrompt)
	}
	if md.NegativePrompt != "lowres, bad hands" {
		t.Fatalf("negative=%q", md.NegativePrompt)
	}
	p := md.Parameters
	if p["steps"] != 28 || p["cfg_scale"] != 6.5 || p["seed"] != 1234 {
		t.Fatalf("numeric settings: %#v", p)
	}
	if p["sampler"] != "DPM++ 2M Karras" || p["size"] != "832x1216" || p["model"] != "animagine" {
		t.Fatalf("string settings: %#v", p)
	}
	if p["lora_hashes"] != "a: 1, b: 2" {
		t.Fatalf("quoted value: %#v", p["lora_hashes"])
	}
}

func TestExtract_CompressedChunks(t *testing.T) {
	ztxt := append([]byte("parameters\x00\x00"), deflate(t, "a cat\nSteps: 5")...)
	md, err := Extract(bytes.NewReader(pngWith(t, chunk("zTXt", ztxt))))
	if err != nil || md == nil || md.PositivePrompt != "a cat" || md.Parameters["steps"] != 5 {
		t.Fatalf("zTXt: md=%+v err=%v", md, err)
	}

	itxt := append([]byte("Description\x00\x01\x00ja\x00\x00"), deflate(t, "桜の木の下の猫")...)
	md, err = Extract(bytes.NewReader(pngWith(t, chunk("iTXt", itxt))))
	if err != nil || md == nil || md.PositivePrompt != "桜の木の下の猫" || md.SourceTool != ToolUnknown {
		t.Fatalf("iTXt: md=%+v err=%v", md, err)
	}
}

func TestExtract_ComfyUIGraph(t *testing.T) {
	graph := `{
		"3": {"class_type": "KSampler", "inputs": {"seed": 42, "steps": 20, "cfg": 7.5, "sampler_name": "euler",
			"positive": ["6", 0], "negative": ["7", 0], "model": ["4", 0]}},
		"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "a lighthouse at dusk"}},
		"7": {"class_type": "CLIPTextEncode", "inputs": {"text": "blurry"}}
	}`
	img := pngWith(t, chunk("tEXt", append([]byte("prompt\x00"), graph...)), chunk("tEXt", []byte("workflow\x00{}")))
	md, err := Extract(bytes.NewReader(img))
	if err != nil || md == nil {
		t.Fatalf("md=%v err=%v", md, err)
	}
	if md.SourceTool != ToolComfyUI || md.PositivePrompt != "a lighthouse at dusk" || md.NegativePrompt != "blurry" {
		t.Fatalf("comfy: %+v", md)
	}
	if md.Parameters["seed"] != 42 || md.Parameters["cfg"] != 7.5 || md.Parameters["sampler_name"] != "euler" {
		t.Fatalf("params: %#v", md.Parameters)
	}

	md, _ = Extract(bytes.NewReader(pngWith(t, chunk("tEXt", []byte("workflow\x00{}")))))
	if md == nil || md.SourceTool != ToolComfyUI || md.PositivePrompt != "" {
		t.Fatalf("workflow only: %+v", md)
	}
}

func TestExtract_NoMetadata(t *testing.T) {
	md, err := Extract(bytes.NewReader(pngWith(t)))
	if err != nil || md != nil {
		t.Fatalf("plain png: md=%+v err=%v", md, err)
	}
	md, err = Extract(bytes.NewReader([]byte("\xff\xd8\xff\xe0 jpeg")))
	if err != nil || md != nil {
		t.Fatalf("non-png: md=%+v err=%v", md, err)
	}
	md, _ = Extract(bytes.NewReader(pngWith(t, chunk("tEXt", []byte("Software\x00paint")))))
	if md != nil {
		t.Fatalf("unrelated keyword produced metadata: %+v", md)
	}
}

func TestReadTextChunks_Truncated(t *testing.T) {
	img := pngWith(t, chunk("tEXt", []byte("parameters\x00a dog")))
	_, err := ReadTextChunks(bytes.NewReader(img[:40]))
	if err == nil {
		t.Fatalf("expected error for truncated image")
	}
}

func TestParseA1111_PromptOnly(t *testing.T) {
	md := ParseA1111("  just a prompt  ")
	if md.PositivePrompt != "just a prompt" || md.NegativePrompt != "" || md.Parameters != nil {
		t.Fatalf("%+v", md)
	}
}

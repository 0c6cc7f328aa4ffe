package modelfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HFConfig is the subset of a transformers config.json this service reads.
type HFConfig struct {
	Architectures         []string `json:"architectures"`
	ModelType             string   `json:"model_type"`
	TorchDtype            string   `json:"torch_dtype"`
	MaxPositionEmbeddings int      `json:"max_position_embeddings"`
	MaxSeqLen             int      `json:"max_seq_len"`
	NPositions            int      `json:"n_positions"`
	TextConfig            *struct {
		MaxPositionEmbeddings int `json:"max_position_embeddings"`
	} `json:"text_config"`
}

// ReadHFConfig parses dir/config.json.
func ReadHFConfig(dir string) (HFConfig, error) {
	var c HFConfig
	b, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config.json: %w", err)
	}
	return c, nil
}

// Family maps architectures[0] to the loader family.
func (c HFConfig) Family() string {
	arch := ""
	if len(c.Architectures) > 0 {
		arch = c.Architectures[0]
	}
	switch {
	case strings.Contains(arch, "Qwen2_5_VL"):
		return "qwen2.5-vl"
	case strings.Contains(arch, "Qwen2VL"):
		return "qwen2-vl"
	case strings.Contains(arch, "Qwen3VL"):
		return "qwen3-vl"
	default:
		return "vision2seq"
	}
}

// ContextLength returns the first non-zero context size field.
func (c HFConfig) ContextLength() int {
	for _, n := range []int{c.MaxPositionEmbeddings, c.MaxSeqLen, c.NPositions} {
		if n > 0 {
			return n
		}
	}
	if c.TextConfig != nil {
		return c.TextConfig.MaxPositionEmbeddings
	}
	return 0
}

// Package modelfile inspects on-disk model artifacts: safetensors headers,
// GGUF metadata, Hugging Face config.json and directory layout rules.
package modelfile

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// maxHeaderLen bounds the JSON header of a safetensors file.
const maxHeaderLen = 100 << 20

// Tensor is one entry of a safetensors header.
type Tensor struct {
	Dtype string  `json:"dtype"`
	Shape []int64 `json:"shape"`
}

// SafetensorsHeader is the decoded JSON header of a safetensors file.
type SafetensorsHeader struct {
	Metadata map[string]string
	Tensors  map[string]Tensor
}

// ReadSafetensorsHeader reads only the header: an 8-byte little-endian length
// followed by that many bytes of JSON.
func ReadSafetensorsHeader(path string) (*SafetensorsHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var n uint64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	if n == 0 || n > maxHeaderLen {
		return nil, fmt.Errorf("header length out of range: %d bytes", n)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse JSON header: %w", err)
	}
	h := &SafetensorsHeader{Tensors: make(map[string]Tensor, len(entries))}
	for name, v := range entries {
		if name == "__metadata__" {
			_ = json.Unmarshal(v, &h.Metadata)
			continue
		}
		var t Tensor
		if err := json.Unmarshal(v, &t); err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		h.Tensors[name] = t
	}
	return h, nil
}

// Parameters sums the element count of every tensor.
func (h *SafetensorsHeader) Parameters() int64 {
	var total int64
	for _, t := range h.Tensors {
		p := int64(1)
		for _, d := range t.Shape {
			p *= d
		}
		total += p
	}
	return total
}

// Dtype returns the shared tensor dtype, "mixed", or "unknown".
func (h *SafetensorsHeader) Dtype() string {
	seen := ""
	for _, t := range h.Tensors {
		if t.Dtype == "" {
			continue
		}
		if seen == "" {
			seen = t.Dtype
		} else if seen != t.Dtype {
			return "mixed"
		}
	}
	if seen == "" {
		return "unknown"
	}
	return seen
}

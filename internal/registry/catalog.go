package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog is the read-mostly set of known presets.
type Catalog struct {
	mu      sync.RWMutex
	presets map[string]Preset
}

type catalogFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// NewCatalog builds a catalog from the given presets, validating each.
func NewCatalog(presets ...Preset) (*Catalog, error) {
	c := &Catalog{presets: make(map[string]Preset, len(presets))}
	for _, p := range presets {
		if err := c.Add(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Load reads a catalog file (a top-level "presets" map keyed by id) and
// overlays it on the built-in presets. An empty path yields the built-ins.
func Load(path string) (*Catalog, error) {
	c, err := NewCatalog(Builtin()...)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	ids := make([]string, 0, len(f.Presets))
	for id := range f.Presets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := f.Presets[id]
		p.ID = id
		if err := c.Add(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add inserts or replaces a preset.
func (c *Catalog) Add(p Preset) error {
	p.normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.presets[p.ID] = p
	c.mu.Unlock()
	return nil
}

// Get resolves a preset by id.
func (c *Catalog) Get(id string) (Preset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.presets[id]
	return p, ok
}

// List returns presets ordered by id.
func (c *Catalog) List() []Preset {
	c.mu.RLock()
	out := make([]Preset, 0, len(c.presets))
	for _, p := range c.presets {
		out = append(out, p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var standardFiles = []string{"*.json", "*.safetensors", "*.txt", "*.model", "*.jinja"}

// Builtin returns the presets shipped with the binary.
func Builtin() []Preset {
	return []Preset{
		{
			ID:             "qwen2.5-vl-7b",
			DisplayName:    "Qwen2.5-VL 7B Instruct",
			Description:    "Balanced vision-language model, good detail recognition.",
			RecommendedFor: "prompt analysis and WAN 2.2 prompts on 16 GB+ GPUs",
			Kind:           KindStandard,
			RepoID:         "Qwen/Qwen2.5-VL-7B-Instruct",
			Include:        standardFiles,
			Resources:      Resources{RAMMB: 20000, VRAMMB: 17000},
			Defaults:       Defaults{Temperature: 0.7, MaxTokens: 1024, TopP: 0.9},
		},
		{
			ID:             "qwen2.5-vl-3b",
			DisplayName:    "Qwen2.5-VL 3B Instruct",
			Description:    "Small vision-language model for lower-memory machines.",
			RecommendedFor: "8 GB GPUs or CPU experimentation",
			Kind:           KindStandard,
			RepoID:         "Qwen/Qwen2.5-VL-3B-Instruct",
			Include:        standardFiles,
			Resources:      Resources{RAMMB: 9000, VRAMMB: 8000},
			Defaults:       Defaults{Temperature: 0.7, MaxTokens: 1024, TopP: 0.9},
		},
		{
			ID:             "qwen3-vl-8b",
			DisplayName:    "Qwen3-VL 8B Instruct",
			Description:    "Newest Qwen vision-language generation.",
			RecommendedFor: "highest quality analysis on 24 GB GPUs",
			Kind:           KindStandard,
			RepoID:         "Qwen/Qwen3-VL-8B-Instruct",
			Include:        standardFiles,
			Resources:      Resources{RAMMB: 22000, VRAMMB: 19000},
			Defaults:       Defaults{Temperature: 0.7, MaxTokens: 1024, TopP: 0.8},
		},
		{
			ID:             "qwen2.5-vl-7b-q4",
			DisplayName:    "Qwen2.5-VL 7B Instruct (GGUF Q4_K_M)",
			Description:    "Quantised llama.cpp build with its vision projector.",
			RecommendedFor: "CPU or small GPUs",
			Kind:           KindCompressed,
			RepoID:         "ggml-org/Qwen2.5-VL-7B-Instruct-GGUF",
			LocalName:      "qwen2.5-vl-7b-instruct-gguf-q4",
			Include:        []string{"*Q4_K_M.gguf", "mmproj-*f16.gguf"},
			Resources:      Resources{RAMMB: 7000, VRAMMB: 6500},
			Defaults:       Defaults{Temperature: 0.7, MaxTokens: 1024, TopP: 0.9},
		},
	}
}

// Package backend loads vision-language model artifacts into a serving
// runtime and streams chat completions from it.
//
// Two variants exist, chosen by the preset kind: Standard runs a transformer
// checkpoint (config.json plus safetensors) in an OpenAI-compatible VLM
// server, Compressed runs a single-file GGUF in llama-server. Both speak the
// OpenAI chat completions protocol once loaded, and both can attach to an
// endpoint that is already running instead of spawning a process.
package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ysm446/sd-to-wan-prompt/internal/prompt"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
)

// Params are the sampling settings of one generation.
type Params struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// TokenUsage contains token accounting reported by the runtime.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result summarizes a generation after streaming.
type Result struct {
	Text         string
	FinishReason string
	Usage        TokenUsage
}

// Usage describes a live handle.
type Usage struct {
	PresetID      string
	Kind          registry.Kind
	Device        string
	Precision     string
	Endpoint      string
	PID           int
	EstRAMBytes   uint64
	EstVRAMBytes  uint64
	Architecture  string
	ContextLength int
	LoadedAt      time.Time
}

// LoadRequest names the artifact to load and where.
type LoadRequest struct {
	Preset registry.Preset
	// Local artifact: a directory, or a GGUF file for ad-hoc presets.
	Path      string
	Device    string
	Precision string
}

// Adapter loads artifacts of one preset kind.
type Adapter interface {
	Kind() registry.Kind
	Load(ctx context.Context, req LoadRequest) (Handle, error)
}

// Handle is a loaded model. It serves one Generate at a time.
type Handle interface {
	// Generate streams fragments in order through onFragment and returns the
	// full text. It stops at the next fragment after ctx is done.
	Generate(ctx context.Context, conv prompt.Conversation, p Params, onFragment func(string) error) (Result, error)
	// Unload releases the runtime. Calling it again is a no-op.
	Unload(ctx context.Context) error
	Describe() Usage
}

// Options are shared by both variants.
type Options struct {
	Host        string
	ContextSize int
	Threads     int
	// Accelerator memory one backend may use; zero skips the check.
	VRAMBudgetMB int
	ReadyTimeout time.Duration
	StopGrace    time.Duration
	Logger       zerolog.Logger
	HTTPClient   *http.Client
	// Available host RAM in bytes; defaults to HostMemory.
	MemoryProbe func() (uint64, error)
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if o.ContextSize <= 0 {
		o.ContextSize = 8192
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 5 * time.Minute
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 5 * time.Second
	}
	if o.HTTPClient == nil {
		// no client timeout: every request carries a context
		o.HTTPClient = &http.Client{}
	}
	if o.MemoryProbe == nil {
		o.MemoryProbe = HostMemory
	}
	return o
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds runtime parameters for the service.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Models  ModelsConfig  `koanf:"models"`
	Hub     HubConfig     `koanf:"hub"`
	Runtime RuntimeConfig `koanf:"runtime"`
	Session SessionConfig `koanf:"session"`
	Log     LogConfig     `koanf:"log"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
	// Zero disables the per-request limit on /generate.
	GenerateTimeout time.Duration `koanf:"generate_timeout" validate:"gte=0"`
	// Requests per minute per client IP; zero disables rate limiting.
	RateLimit   int      `koanf:"rate_limit" validate:"gte=0"`
	CORSEnabled bool     `koanf:"cors_enabled"`
	CORSOrigins []string `koanf:"cors_origins"`
	Swagger     bool     `koanf:"swagger"`
}

type ModelsConfig struct {
	// Root of the artifact store.
	Dir string `koanf:"dir" validate:"required"`
	// Optional preset catalog (presets: map). Built-in presets are used when empty.
	PresetsFile string `koanf:"presets_file"`
	// Optional directory scanned for ad-hoc local GGUF files.
	LocalDir string `koanf:"local_dir"`
	// Where last_selection.json is kept.
	StateDir string `koanf:"state_dir" validate:"required"`
}

type HubConfig struct {
	Endpoint    string        `koanf:"endpoint" validate:"required,url"`
	Token       string        `koanf:"token"`
	UserAgent   string        `koanf:"user_agent"`
	MaxRetries  int           `koanf:"max_retries" validate:"gte=0,lte=20"`
	Parallelism int           `koanf:"parallelism" validate:"gte=1,lte=16"`
	Timeout     time.Duration `koanf:"timeout" validate:"gte=0"`
	// Consecutive transient failures before the hub circuit opens.
	BreakerFailures int           `koanf:"breaker_failures" validate:"gte=1"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"gte=0"`
}

type RuntimeConfig struct {
	Host string `koanf:"host" validate:"required"`
	// Transformer runtime (OpenAI-compatible VLM server) for standard presets.
	StandardBin      string   `koanf:"standard_bin"`
	StandardArgs     []string `koanf:"standard_args"`
	StandardEndpoint string   `koanf:"standard_endpoint"`
	// llama.cpp server for compressed presets.
	LlamaBin      string   `koanf:"llama_bin"`
	LlamaArgs     []string `koanf:"llama_args"`
	LlamaEndpoint string   `koanf:"llama_endpoint"`
	ContextSize   int      `koanf:"context_size" validate:"gte=0"`
	Threads       int      `koanf:"threads" validate:"gte=0"`
	// Accelerator memory available to one backend; zero skips the check.
	VRAMBudgetMB int           `koanf:"vram_budget_mb" validate:"gte=0"`
	ReadyTimeout time.Duration `koanf:"ready_timeout" validate:"gte=0"`
	StopGrace    time.Duration `koanf:"stop_grace" validate:"gte=0"`
}

type SessionConfig struct {
	// shared: one slot for every device. per_device: one slot per device class.
	Mode             string        `koanf:"mode" validate:"oneof=shared per_device"`
	MaxQueueDepth    int           `koanf:"max_queue_depth" validate:"gte=0"`
	MaxWait          time.Duration `koanf:"max_wait" validate:"gte=0"`
	DrainTimeout     time.Duration `koanf:"drain_timeout" validate:"gte=0"`
	AutoDownload     bool          `koanf:"auto_download"`
	RestoreLast      bool          `koanf:"restore_last"`
	DefaultDevice    string        `koanf:"default_device"`
	DefaultPrecision string        `koanf:"default_precision" validate:"omitempty,oneof=auto bfloat16 float16 float32"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxBodyBytes:    32 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Models: ModelsConfig{
			Dir:      "~/.cache/wanprompt/models",
			StateDir: "~/.cache/wanprompt",
		},
		Hub: HubConfig{
			Endpoint:        "https://huggingface.co",
			UserAgent:       "wanpromptd/1.0",
			MaxRetries:      5,
			Parallelism:     4,
			Timeout:         30 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Runtime: RuntimeConfig{
			Host:         "127.0.0.1",
			StandardBin:  "vllm",
			LlamaBin:     "llama-server",
			ContextSize:  8192,
			ReadyTimeout: 5 * time.Minute,
			StopGrace:    5 * time.Second,
		},
		Session: SessionConfig{
			Mode:             "shared",
			MaxWait:          30 * time.Second,
			DrainTimeout:     30 * time.Second,
			AutoDownload:     true,
			DefaultDevice:    "auto",
			DefaultPrecision: "bfloat16",
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

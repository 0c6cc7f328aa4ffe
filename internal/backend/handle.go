package backend

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/prompt"
)

// runtimeHandle serves generations from an OpenAI-compatible runtime, either
// spawned (proc set) or attached.
type runtimeHandle struct {
	usage   Usage
	baseURL string
	model   string
	client  *http.Client
	proc    *process
	grace   time.Duration
	log     zerolog.Logger

	busy     atomic.Bool
	mu       sync.Mutex
	unloaded bool
}

func (h *runtimeHandle) Generate(ctx context.Context, conv prompt.Conversation, p Params, onFragment func(string) error) (Result, error) {
	if !h.busy.CompareAndSwap(false, true) {
		return Result{}, errs.Busy("generate", h.usage.PresetID, "a generation is already running on this handle")
	}
	defer h.busy.Store(false)
	h.mu.Lock()
	gone := h.unloaded
	h.mu.Unlock()
	if gone {
		return Result{}, errs.NotReady("generate", h.usage.PresetID, "handle unloaded")
	}
	return streamChat(ctx, h.client, h.log, h.baseURL, h.model, h.usage.PresetID, conv, p, onFragment)
}

func (h *runtimeHandle) Unload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unloaded {
		return nil
	}
	h.unloaded = true
	if h.proc == nil {
		h.log.Info().Str("event", "detach").Str("preset", h.usage.PresetID).Str("url", h.baseURL).Msg("endpoint released")
		return nil
	}
	return h.proc.stop(ctx, h.grace)
}

func (h *runtimeHandle) Describe() Usage {
	return h.usage
}

// attach connects to an already running endpoint.
func attach(ctx context.Context, presetID, endpoint string, usage Usage, opts Options) (*runtimeHandle, error) {
	if !healthy(ctx, opts.HTTPClient, endpoint) {
		return nil, errs.Transient("load", presetID, fmt.Errorf("endpoint %s not healthy", endpoint))
	}
	usage.Endpoint = endpoint
	usage.LoadedAt = time.Now()
	opts.Logger.Info().Str("event", "attach").Str("preset", presetID).Str("url", endpoint).Msg("using running endpoint")
	return &runtimeHandle{
		usage:   usage,
		baseURL: endpoint,
		model:   servedModel(ctx, opts.HTTPClient, endpoint),
		client:  opts.HTTPClient,
		grace:   opts.StopGrace,
		log:     opts.Logger,
	}, nil
}

// spawn starts a runtime and wraps it in a handle.
func spawn(ctx context.Context, presetID, bin string, args func(host string, port int) []string, usage Usage, opts Options) (*runtimeHandle, error) {
	proc, err := startProcess(ctx, presetID, bin, args, opts)
	if err != nil {
		return nil, err
	}
	usage.Endpoint = proc.baseURL
	usage.PID = proc.pid
	usage.LoadedAt = time.Now()
	return &runtimeHandle{
		usage:   usage,
		baseURL: proc.baseURL,
		model:   servedModel(ctx, opts.HTTPClient, proc.baseURL),
		client:  opts.HTTPClient,
		proc:    proc,
		grace:   opts.StopGrace,
		log:     opts.Logger,
	}, nil
}

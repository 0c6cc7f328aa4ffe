package backend

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/modelfile"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
)

// allLayers asks llama.cpp to offload every layer.
const allLayers = 999

// Compressed loads single-file GGUF models into llama-server.
type Compressed struct {
	bin      string
	args     []string
	endpoint string
	opts     Options
}

// NewCompressed builds the compressed variant. A non-empty endpoint attaches
// to a running llama-server instead of spawning bin.
func NewCompressed(bin string, args []string, endpoint string, opts Options) *Compressed {
	return &Compressed{bin: bin, args: args, endpoint: endpoint, opts: opts.withDefaults()}
}

func (c *Compressed) Kind() registry.Kind { return registry.KindCompressed }

func (c *Compressed) Load(ctx context.Context, req LoadRequest) (Handle, error) {
	id := req.Preset.ID
	if req.Precision != "" && req.Precision != "auto" {
		return nil, errs.Unsupported("load", id, fmt.Sprintf("precision %q; quantisation is fixed by the GGUF file", req.Precision))
	}
	dev, err := ParseDevice(req.Device, c.opts.VRAMBudgetMB)
	if err != nil {
		return nil, err
	}
	model, projector, err := resolveGGUF(req)
	if err != nil {
		return nil, errs.Integrity("load", id, err)
	}
	g, err := modelfile.OpenGGUF(model)
	if err != nil {
		return nil, errs.Integrity("load", id, err)
	}
	info := g.Info()

	var layers uint64
	if dev.Accelerator {
		layers = allLayers
	}
	ram, vram := g.Estimate(c.opts.ContextSize, layers)
	usage := Usage{
		PresetID:      id,
		Kind:          registry.KindCompressed,
		Device:        dev.Name,
		Precision:     info.FileType,
		Architecture:  info.Architecture,
		ContextLength: min(c.opts.ContextSize, info.ContextLength),
		EstRAMBytes:   ram,
		EstVRAMBytes:  vram,
	}
	if usage.ContextLength == 0 {
		usage.ContextLength = c.opts.ContextSize
	}
	if err := checkMemory(id, dev, ram, vram, c.opts); err != nil {
		return nil, err
	}
	c.opts.Logger.Info().Str("event", "load_plan").Str("preset", id).Str("arch", info.Architecture).
		Str("quant", info.FileType).Str("params", info.Parameters).Bool("projector", projector != "").
		Uint64("est_ram", ram).Uint64("est_vram", vram).Str("device", dev.Name).Msg("loading compressed model")

	if c.endpoint != "" {
		return attach(ctx, id, c.endpoint, usage, c.opts)
	}
	args := func(host string, port int) []string {
		out := []string{"-m", model}
		if projector != "" {
			out = append(out, "--mmproj", projector)
		}
		out = append(out,
			"-c", strconv.Itoa(c.opts.ContextSize),
			"-ngl", strconv.FormatUint(layers, 10),
			"--host", host,
			"--port", strconv.Itoa(port),
		)
		if dev.Accelerator {
			out = append(out, "-mg", strconv.Itoa(dev.Index()))
		}
		if c.opts.Threads > 0 {
			out = append(out, "-t", strconv.Itoa(c.opts.Threads))
		}
		return append(out, c.args...)
	}
	return spawn(ctx, id, c.bin, args, usage, c.opts)
}

// resolveGGUF returns the model and projector files for a request. Path may
// be the GGUF itself (ad-hoc local presets) or a directory holding it.
func resolveGGUF(req LoadRequest) (string, string, error) {
	fi, err := os.Stat(req.Path)
	if err != nil {
		return "", "", err
	}
	if !fi.IsDir() {
		return req.Path, req.Preset.Projector, nil
	}
	return modelfile.FindGGUF(req.Path)
}

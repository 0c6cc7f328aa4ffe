package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/modelfile"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
)

// DefaultPrecision is used by Standard when a request names none.
const DefaultPrecision = "bfloat16"

var precisionBytes = map[string]uint64{
	"bfloat16": 2,
	"float16":  2,
	"float32":  4,
}

// overhead covers activations and the vision tower's working memory.
const overhead = 1.2

// Standard loads transformer checkpoints into an OpenAI-compatible VLM server.
type Standard struct {
	bin      string
	args     []string
	endpoint string
	opts     Options
}

// NewStandard builds the standard variant. A non-empty endpoint attaches to a
// running server instead of spawning bin. args are passed before the
// generated flags, so a subcommand such as "serve" belongs there.
func NewStandard(bin string, args []string, endpoint string, opts Options) *Standard {
	return &Standard{bin: bin, args: args, endpoint: endpoint, opts: opts.withDefaults()}
}

func (s *Standard) Kind() registry.Kind { return registry.KindStandard }

func (s *Standard) Load(ctx context.Context, req LoadRequest) (Handle, error) {
	id := req.Preset.ID
	precision := req.Precision
	if precision == "" || precision == "auto" {
		precision = DefaultPrecision
	}
	per, ok := precisionBytes[precision]
	if !ok {
		return nil, errs.Unsupported("load", id, fmt.Sprintf("precision %q; use bfloat16, float16 or float32", precision))
	}
	dev, err := ParseDevice(req.Device, s.opts.VRAMBudgetMB)
	if err != nil {
		return nil, err
	}
	if !dev.Accelerator && precision == "float16" {
		return nil, errs.Unsupported("load", id, "float16 is not supported on cpu")
	}

	cfg, err := modelfile.ReadHFConfig(req.Path)
	if err != nil {
		return nil, errs.Integrity("load", id, err)
	}
	params, err := countParameters(req.Path)
	if err != nil {
		return nil, errs.Integrity("load", id, err)
	}

	usage := Usage{
		PresetID:      id,
		Kind:          registry.KindStandard,
		Device:        dev.Name,
		Precision:     precision,
		Architecture:  cfg.Family(),
		ContextLength: cfg.ContextLength(),
	}
	est := uint64(float64(params) * float64(per) * overhead)
	if params == 0 {
		// weights in a format without a readable header
		est = uint64(max(req.Preset.Resources.RAMMB, req.Preset.Resources.VRAMMB)) << 20
	}
	if dev.Accelerator {
		usage.EstVRAMBytes = est
	} else {
		usage.EstRAMBytes = est
	}
	if err := checkMemory(id, dev, usage.EstRAMBytes, usage.EstVRAMBytes, s.opts); err != nil {
		return nil, err
	}
	s.opts.Logger.Info().Str("event", "load_plan").Str("preset", id).Str("family", usage.Architecture).
		Int64("params", params).Uint64("est_bytes", est).Str("device", dev.Name).Str("precision", precision).Msg("loading standard model")

	if s.endpoint != "" {
		return attach(ctx, id, s.endpoint, usage, s.opts)
	}
	args := func(host string, port int) []string {
		out := append([]string(nil), s.args...)
		return append(out,
			"--model", req.Path,
			"--dtype", precision,
			"--device", dev.Name,
			"--host", host,
			"--port", strconv.Itoa(port),
		)
	}
	return spawn(ctx, id, s.bin, args, usage, s.opts)
}

// countParameters sums element counts over every safetensors file in dir.
func countParameters(dir string) (int64, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.safetensors"))
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		if _, err := os.Stat(filepath.Join(dir, "pytorch_model.bin")); err == nil {
			return 0, nil
		}
		return 0, fmt.Errorf("no weights in %s", dir)
	}
	var total int64
	for _, f := range files {
		h, err := modelfile.ReadSafetensorsHeader(f)
		if err != nil {
			return 0, err
		}
		total += h.Parameters()
	}
	return total, nil
}

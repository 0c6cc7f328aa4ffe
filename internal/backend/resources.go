package backend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/elastic/go-sysinfo"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
)

// Device is a resolved placement target.
type Device struct {
	// cpu or cuda:N
	Name        string
	Accelerator bool
}

// ParseDevice resolves auto, cpu, cuda and cuda:N. auto picks the first
// accelerator when an accelerator budget is configured, the CPU otherwise.
func ParseDevice(s string, vramBudgetMB int) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "auto":
		if vramBudgetMB > 0 {
			return Device{Name: "cuda:0", Accelerator: true}, nil
		}
		return Device{Name: "cpu"}, nil
	case "cpu":
		return Device{Name: "cpu"}, nil
	case "cuda", "gpu":
		return Device{Name: "cuda:0", Accelerator: true}, nil
	}
	if idx, ok := strings.CutPrefix(s, "cuda:"); ok {
		if n, err := strconv.Atoi(idx); err == nil && n >= 0 {
			return Device{Name: "cuda:" + idx, Accelerator: true}, nil
		}
	}
	return Device{}, errs.Unsupported("load", s, "device must be auto, cpu or cuda:N")
}

// Index is the accelerator ordinal, or -1 for the CPU.
func (d Device) Index() int {
	if !d.Accelerator {
		return -1
	}
	n, _ := strconv.Atoi(strings.TrimPrefix(d.Name, "cuda:"))
	return n
}

// HostMemory returns the available host RAM in bytes.
func HostMemory() (uint64, error) {
	h, err := sysinfo.Host()
	if err != nil {
		return 0, fmt.Errorf("host info: %w", err)
	}
	mem, err := h.Memory()
	if err != nil {
		return 0, fmt.Errorf("host memory: %w", err)
	}
	return mem.Available, nil
}

// checkMemory compares the estimates against the device's capacity. Host RAM
// is checked on every device since accelerator loads still stage weights
// there. Unknown capacity skips a check.
func checkMemory(presetID string, dev Device, ram, vram uint64, opts Options) error {
	if dev.Accelerator && opts.VRAMBudgetMB > 0 && vram > 0 {
		budget := uint64(opts.VRAMBudgetMB) << 20
		if vram > budget {
			return errs.Exhausted("load", presetID, fmt.Sprintf("requires %s VRAM, %s available on %s",
				units.BytesSize(float64(vram)), units.BytesSize(float64(budget)), dev.Name), nil)
		}
	}
	if ram == 0 {
		return nil
	}
	avail, err := opts.MemoryProbe()
	if err != nil || avail == 0 {
		opts.Logger.Warn().Err(err).Str("preset", presetID).Msg("host memory unknown, skipping check")
		return nil
	}
	if ram > avail {
		host := dev.Name
		if dev.Accelerator {
			host = "host"
		}
		return errs.Exhausted("load", presetID, fmt.Sprintf("requires %s RAM, %s available on %s",
			units.BytesSize(float64(ram)), units.BytesSize(float64(avail)), host), nil)
	}
	return nil
}

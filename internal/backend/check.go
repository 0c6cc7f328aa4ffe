package backend

import (
	"context"
	"fmt"
	"os/exec"
)

// Checker is implemented by adapters that can verify their runtime is
// reachable before any load.
type Checker interface {
	Check(ctx context.Context) error
}

// checkRuntime probes an attached endpoint, or looks bin up on PATH.
func checkRuntime(ctx context.Context, bin, endpoint string, opts Options) error {
	if endpoint != "" {
		if !healthy(ctx, opts.HTTPClient, endpoint) {
			return fmt.Errorf("endpoint %s not healthy", endpoint)
		}
		return nil
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("runtime %q not found: %w", bin, err)
	}
	return nil
}

func (s *Standard) Check(ctx context.Context) error { return checkRuntime(ctx, s.bin, s.endpoint, s.opts) }

func (c *Compressed) Check(ctx context.Context) error { return checkRuntime(ctx, c.bin, c.endpoint, c.opts) }

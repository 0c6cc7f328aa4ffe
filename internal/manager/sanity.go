package manager

import (
	"context"
	"os"
	"sort"

	"github.com/ysm446/sd-to-wan-prompt/internal/backend"
)

// RuntimeCheck is the preflight result of one backend variant.
type RuntimeCheck struct {
	Kind  string `json:"kind"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SanityReport describes runtime checks for external dependencies.
type SanityReport struct {
	StoreRoot     string         `json:"store_root,omitempty"`
	StoreWritable bool           `json:"store_writable"`
	Runtimes      []RuntimeCheck `json:"runtimes"`
	Error         string         `json:"error,omitempty"`
}

// OK reports whether the store is usable and at least one runtime is.
func (r SanityReport) OK() bool {
	if !r.StoreWritable {
		return false
	}
	for _, c := range r.Runtimes {
		if c.OK {
			return true
		}
	}
	return false
}

// SanityCheck validates that the store and the configured runtimes are
// available. It does not mutate state and is safe to call at any time.
func (m *Manager) SanityCheck(ctx context.Context) SanityReport {
	var r SanityReport
	if m.store != nil {
		r.StoreRoot = m.store.Root()
		if f, err := os.CreateTemp(r.StoreRoot, ".probe-*"); err != nil {
			r.Error = err.Error()
		} else {
			r.StoreWritable = true
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	} else {
		r.Error = "no artifact store configured"
	}
	for kind, a := range m.adapters {
		c := RuntimeCheck{Kind: string(kind), OK: true}
		if ch, ok := a.(backend.Checker); ok {
			if err := ch.Check(ctx); err != nil {
				c.OK = false
				c.Error = err.Error()
			}
		}
		r.Runtimes = append(r.Runtimes, c)
	}
	sort.Slice(r.Runtimes, func(i, j int) bool { return r.Runtimes[i].Kind < r.Runtimes[j].Kind })
	if len(r.Runtimes) == 0 && r.Error == "" {
		r.Error = "no backend configured"
	}
	return r
}

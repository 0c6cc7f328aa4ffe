package manager

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ysm446/sd-to-wan-prompt/internal/backend"
	"github.com/ysm446/sd-to-wan-prompt/internal/common/fsutil"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
	"github.com/ysm446/sd-to-wan-prompt/internal/store"
	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

// Manager owns the slots and every loaded handle. It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	catalog  *registry.Catalog
	store    *store.Store
	fetcher  Fetcher
	adapters map[registry.Kind]backend.Adapter

	mode             string
	maxQueueDepth    int
	maxWait          time.Duration
	drainTimeout     time.Duration
	autoDownload     bool
	defaultDevice    string
	defaultPrecision string
	vramBudgetMB     int

	publisher EventPublisher
	log       zerolog.Logger

	slots     map[string]*slot
	streams   map[string]*Stream
	releasing bool
	downloads singleflight.Group

	// dlMu guards inflight and the listener sets inside it
	dlMu     sync.Mutex
	inflight map[string]*sharedDownload

	persistMu     sync.Mutex
	selectionPath string
	lastSelection *types.Selection
	startTime     time.Time
}

// Ready reports whether any slot can serve a generation.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.slots {
		if s.resident() && !m.releasing {
			return true
		}
	}
	return false
}

// ListPresets returns the catalog with local availability.
func (m *Manager) ListPresets() []types.PresetInfo {
	presets := m.catalog.List()
	out := make([]types.PresetInfo, 0, len(presets))
	for _, p := range presets {
		out = append(out, types.PresetInfo{
			ID:             p.ID,
			DisplayName:    p.DisplayName,
			Description:    p.Description,
			RecommendedFor: p.RecommendedFor,
			Kind:           string(p.Kind),
			RepoID:         p.RepoID,
			Revision:       p.Revision,
			LocalName:      p.LocalName,
			RAMMB:          p.Resources.RAMMB,
			VRAMMB:         p.Resources.VRAMMB,
			Downloaded:     m.available(p),
		})
	}
	return out
}

// available reports whether p can be loaded without downloading.
func (m *Manager) available(p registry.Preset) bool {
	if p.LocalPath != "" {
		return fsutil.PathExists(p.LocalPath)
	}
	return m.store != nil && m.store.Has(p.ID)
}

// classFor maps a device to its slot class.
func (m *Manager) classFor(dev backend.Device) string {
	if m.mode == ModePerDevice {
		return dev.Name
	}
	return sharedClass
}

// precisionFor resolves the precision a preset kind is loaded with.
func (m *Manager) precisionFor(kind registry.Kind, precision string) string {
	if kind == registry.KindCompressed {
		if precision == "" {
			return "auto"
		}
		return precision
	}
	if precision == "" || precision == "auto" {
		return m.defaultPrecision
	}
	return precision
}

// slotLocked returns the slot for class, creating it empty. Caller holds mu.
func (m *Manager) slotLocked(class string) *slot {
	s := m.slots[class]
	if s == nil {
		s = &slot{
			class:   class,
			state:   StateEmpty,
			queueCh: make(chan struct{}, m.maxQueueDepth+1),
			genCh:   make(chan struct{}, 1),
		}
		m.slots[class] = s
	}
	return s
}

// sortedSlotsLocked returns the slots ordered by class. Caller holds mu.
func (m *Manager) sortedSlotsLocked() []*slot {
	out := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].class < out[j].class })
	return out
}

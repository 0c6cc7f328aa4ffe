package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ysm446/sd-to-wan-prompt/internal/backend"
	"github.com/ysm446/sd-to-wan-prompt/internal/common/fsutil"
	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

// Select makes presetID resident in the slot of device, replacing whatever
// that slot held. Selecting what is already resident is a no-op. Empty device
// and precision use the configured defaults.
func (m *Manager) Select(ctx context.Context, presetID, device, precision string) (types.SlotStatus, error) {
	p, ok := m.catalog.Get(presetID)
	if !ok {
		return types.SlotStatus{}, ErrPresetNotFound(presetID)
	}
	if device == "" {
		device = m.defaultDevice
	}
	dev, err := backend.ParseDevice(device, m.vramBudgetMB)
	if err != nil {
		return types.SlotStatus{}, err
	}
	precision = m.precisionFor(p.Kind, precision)
	adapter := m.adapters[p.Kind]
	if adapter == nil {
		return types.SlotStatus{}, errs.Unsupported("select", presetID, fmt.Sprintf("no backend configured for %s presets", p.Kind))
	}

	m.mu.Lock()
	if m.releasing {
		m.mu.Unlock()
		return types.SlotStatus{}, errs.Busy("select", presetID, "release in progress")
	}
	s := m.slotLocked(m.classFor(dev))
	switch {
	case s.state == StateLoading || s.state == StateUnloading || s.loadCancel != nil:
		m.mu.Unlock()
		return types.SlotStatus{}, errs.Busy("select", presetID, fmt.Sprintf("slot %s is %s", s.class, s.state))
	case s.state == StateGenerating || len(s.queueCh) > 0:
		m.mu.Unlock()
		return types.SlotStatus{}, errs.Busy("select", presetID, "generation in progress")
	case s.state == StateReady && s.preset.ID == p.ID && s.device == dev.Name && s.precision == precision:
		st := m.slotStatusLocked(s)
		m.mu.Unlock()
		return st, nil
	}
	old, oldID := s.handle, s.preset.ID
	s.handle = nil
	s.lastErr = nil
	s.preset, s.device, s.precision = p, dev.Name, precision
	if old != nil {
		s.state = StateUnloading
	} else {
		s.state = StateLoading
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.loadCancel = cancel
	m.mu.Unlock()

	start := time.Now()
	m.publisher.Publish(Event{Name: EventSelectStart, PresetID: p.ID, Fields: map[string]any{"class": s.class, "device": dev.Name, "precision": precision, "replaces": oldID}})
	if old != nil {
		// the slot passes through empty; loadCancel keeps it claimed
		if err := m.unloadHandle(ctx, s.class, oldID, old); err == nil {
			m.mu.Lock()
			s.state = StateEmpty
			m.mu.Unlock()
			m.publisher.Publish(Event{Name: EventSlotEmpty, PresetID: oldID, Fields: map[string]any{"class": s.class}})
		}
		m.mu.Lock()
		s.state = StateLoading
		m.mu.Unlock()
	}

	path, err := m.ensureArtifact(ctx, p)
	if err != nil {
		return types.SlotStatus{}, m.failLoad(s, p, err)
	}
	h, err := adapter.Load(ctx, backend.LoadRequest{Preset: p, Path: path, Device: dev.Name, Precision: precision})
	if err != nil {
		if errs.Is(err, errs.KindIntegrityFailure) && p.LocalPath == "" && m.store != nil {
			_ = m.store.Invalidate(p.ID, err.Error())
		}
		return types.SlotStatus{}, m.failLoad(s, p, err)
	}

	m.mu.Lock()
	s.handle = h
	s.state = StateReady
	s.loadCancel = nil
	s.loadedAt = time.Now()
	st := m.slotStatusLocked(s)
	m.mu.Unlock()

	loadsTotal.WithLabelValues(string(p.Kind), "ok").Inc()
	loadDuration.WithLabelValues(string(p.Kind)).Observe(time.Since(start).Seconds())
	m.publisher.Publish(Event{Name: EventLoadReady, PresetID: p.ID, Fields: map[string]any{"class": s.class, "device": st.Device, "endpoint": st.Endpoint, "duration_ms": time.Since(start).Milliseconds()}})
	m.setSelection(types.Selection{PresetID: p.ID, Device: device, Precision: precision})
	return st, nil
}

// ensureArtifact returns the local path of p, downloading it when allowed.
func (m *Manager) ensureArtifact(ctx context.Context, p registry.Preset) (string, error) {
	if p.LocalPath != "" {
		if !fsutil.PathExists(p.LocalPath) {
			return "", errs.Integrity("select", p.ID, fmt.Errorf("%s does not exist", p.LocalPath))
		}
		return p.LocalPath, nil
	}
	if m.store == nil {
		return "", errs.Conflict("select", p.ID, "artifact not present")
	}
	if !m.store.Has(p.ID) {
		if !m.autoDownload || m.fetcher == nil {
			return "", errs.Conflict("select", p.ID, "artifact not present")
		}
		if _, err := m.Download(ctx, p.ID, false, nil); err != nil {
			return "", err
		}
	}
	return m.store.PathFor(p.ID)
}

// failLoad records err on the slot. A cancelled load leaves the slot empty.
func (m *Manager) failLoad(s *slot, p registry.Preset, err error) error {
	err = asKinded("select", p.ID, err)
	m.mu.Lock()
	s.loadCancel = nil
	if errs.Is(err, errs.KindCancelled) || errors.Is(err, context.Canceled) {
		s.state = StateEmpty
	} else {
		s.state = StateFailed
		s.lastErr = err
	}
	m.mu.Unlock()
	loadsTotal.WithLabelValues(string(p.Kind), outcomeOf(err)).Inc()
	m.publisher.Publish(Event{Name: EventLoadFailed, PresetID: p.ID, Fields: map[string]any{"class": s.class, "kind": kindOf(err), "error": err.Error()}})
	return err
}

// unloadHandle unloads h outside the lock. Unload runs to completion even
// when ctx is done so the runtime never outlives its slot.
func (m *Manager) unloadHandle(ctx context.Context, class, presetID string, h backend.Handle) error {
	m.publisher.Publish(Event{Name: EventUnloadStart, PresetID: presetID, Fields: map[string]any{"class": class}})
	err := h.Unload(context.WithoutCancel(ctx))
	if err != nil {
		m.log.Warn().Err(err).Str("event", "unload_error").Str("preset", presetID).Str("class", class).Msg("unload failed")
	}
	m.publisher.Publish(Event{Name: EventUnloadDone, PresetID: presetID, Fields: map[string]any{"class": class}})
	return err
}

package manager

import (
	"context"
	"errors"
	"time"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
)

const (
	drainPoll = 10 * time.Millisecond
	// cancelGrace bounds the wait for cancelled generations to return.
	cancelGrace = 5 * time.Second
)

// Release drains and unloads every slot, leaving them empty. Submits and
// selects are rejected while it runs. Generations still running after the
// drain timeout, or when ctx ends, are cancelled. Releasing with nothing
// resident is a no-op.
func (m *Manager) Release(ctx context.Context) error {
	m.mu.Lock()
	if m.releasing {
		m.mu.Unlock()
		return errs.Busy("release", "backend", "release in progress")
	}
	m.releasing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.releasing = false
		m.mu.Unlock()
	}()

	if !m.waitDrained(ctx, m.drainTimeout) {
		n := m.cancelAll()
		m.log.Warn().Str("event", "drain_timeout").Int("cancelled", n).Dur("timeout", m.drainTimeout).Msg("cancelling in-flight work")
		if !m.waitDrained(context.WithoutCancel(ctx), cancelGrace) {
			m.log.Warn().Str("event", "drain_incomplete").Msg("unloading with generations still running")
		}
	}

	var errList []error
	m.mu.Lock()
	for _, s := range m.sortedSlotsLocked() {
		h, id := s.handle, s.preset.ID
		if h == nil {
			// a load that outlived the grace period settles the slot itself
			if s.state != StateLoading && s.state != StateUnloading && s.loadCancel == nil {
				s.state, s.lastErr, s.active = StateEmpty, nil, ""
			}
			continue
		}
		s.state = StateUnloading
		m.mu.Unlock()
		if err := m.unloadHandle(ctx, s.class, id, h); err != nil {
			errList = append(errList, err)
		}
		m.mu.Lock()
		s.handle = nil
		s.state, s.lastErr, s.active = StateEmpty, nil, ""
	}
	m.mu.Unlock()
	return errors.Join(errList...)
}

// Close releases every slot; it is the shutdown hook.
func (m *Manager) Close(ctx context.Context) error { return m.Release(ctx) }

// waitDrained polls until no slot is switching or holding admitted work. It reports false when ctx ends or timeout passes first.
func (m *Manager) waitDrained(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(drainPoll)
	defer tick.Stop()
	for !m.drained() {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
	return true
}

func (m *Manager) drained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.slots {
		if len(s.queueCh) > 0 || s.loadCancel != nil || s.state == StateLoading || s.state == StateUnloading || s.state == StateGenerating {
			return false
		}
	}
	return true
}

// cancelAll cancels every admitted or waiting request and every load.
func (m *Manager) cancelAll() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, st := range m.streams {
		st.Cancel()
		n++
	}
	for _, s := range m.slots {
		if s.loadCancel != nil {
			s.loadCancel()
			n++
		}
	}
	return n
}

package manager

import (
	"time"

	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

// Describe returns a snapshot of every slot and the last selection.
func (m *Manager) Describe() types.DescribeResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.DescribeResponse{
		Mode:           m.mode,
		Slots:          []types.SlotStatus{},
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	for _, s := range m.sortedSlotsLocked() {
		resp.Slots = append(resp.Slots, m.slotStatusLocked(s))
	}
	if m.lastSelection != nil {
		sel := *m.lastSelection
		resp.LastSelection = &sel
	}
	return resp
}

// slotStatusLocked builds the public view of s. Caller holds mu.
func (m *Manager) slotStatusLocked(s *slot) types.SlotStatus {
	st := types.SlotStatus{
		Class:         s.class,
		State:         string(s.state),
		ActiveRequest: s.active,
		QueueLen:      max(len(s.queueCh)-len(s.genCh), 0),
	}
	if s.state != StateEmpty {
		st.PresetID = s.preset.ID
		st.Kind = string(s.preset.Kind)
		st.Device = s.device
		st.Precision = s.precision
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.handle != nil {
		u := s.handle.Describe()
		st.Kind = string(u.Kind)
		st.Device = u.Device
		st.Precision = u.Precision
		st.Endpoint = u.Endpoint
		st.PID = u.PID
		st.EstRAMMB = int(u.EstRAMBytes >> 20)
		st.EstVRAMMB = int(u.EstVRAMBytes >> 20)
		st.Architecture = u.Architecture
		st.ContextLength = u.ContextLength
		st.LoadedUnix = u.LoadedAt.Unix()
	}
	return st
}

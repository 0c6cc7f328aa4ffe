package manager

import (
	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

// ListArtifacts returns the local copies known to the store.
func (m *Manager) ListArtifacts() []types.ArtifactInfo {
	if m.store == nil {
		return []types.ArtifactInfo{}
	}
	recs := m.store.List()
	out := make([]types.ArtifactInfo, 0, len(recs))
	for _, r := range recs {
		ai := types.ArtifactInfo{
			PresetID:    r.PresetID,
			LocalName:   r.LocalName,
			Layout:      string(r.Layout),
			Path:        r.Path,
			Complete:    r.Complete,
			SizeBytes:   r.SizeBytes,
			Size:        r.HumanSize(),
			Files:       len(r.Files),
			Invalidated: r.Invalidated,
		}
		if !r.LastVerifiedAt.IsZero() {
			ai.LastVerifiedUnix = r.LastVerifiedAt.Unix()
		}
		out = append(out, ai)
	}
	return out
}

// RemoveArtifact deletes the local copy of presetID. A preset that is
// resident, being selected or downloading is refused.
func (m *Manager) RemoveArtifact(presetID string) error {
	if m.store == nil {
		return errs.NotFound("remove", presetID)
	}
	if _, ok := m.store.Get(presetID); !ok {
		return errs.NotFound("remove", presetID)
	}
	if err := m.removeIdle(presetID); err != nil {
		return err
	}
	m.publisher.Publish(Event{Name: EventArtifactRemoved, PresetID: presetID})
	return nil
}

// removeIdle holds both locks across the checks and the removal so neither a
// select nor a download can start in between.
func (m *Manager) removeIdle(presetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isResidentLocked(presetID) {
		return errs.Busy("remove", presetID, "preset is loaded; release it first")
	}
	m.dlMu.Lock()
	defer m.dlMu.Unlock()
	if m.downloadingLocked(presetID) {
		return errs.Busy("remove", presetID, "download in progress")
	}
	return m.store.Remove(presetID)
}

// Rescan rebuilds the store manifest from disk for every catalog preset
// that lives in the store.
func (m *Manager) Rescan() error {
	if m.store == nil {
		return nil
	}
	var stored []registry.Preset
	for _, p := range m.catalog.List() {
		if p.LocalPath == "" {
			stored = append(stored, p)
		}
	}
	return m.store.Rescan(stored)
}

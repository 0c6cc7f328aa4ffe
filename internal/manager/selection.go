package manager

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/ysm446/sd-to-wan-prompt/internal/common/fsutil"
	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

// loadSelection reads last_selection.json. A missing or corrupt file leaves
// no selection.
func (m *Manager) loadSelection() {
	b, err := os.ReadFile(m.selectionPath)
	if err != nil {
		return
	}
	var sel types.Selection
	if err := json.Unmarshal(b, &sel); err != nil || sel.PresetID == "" {
		m.log.Warn().Err(err).Str("event", "selection_corrupt").Str("path", m.selectionPath).Msg("ignoring last selection")
		return
	}
	m.lastSelection = &sel
}

// setSelection records sel as the last selection and writes it out.
func (m *Manager) setSelection(sel types.Selection) {
	sel.SavedUnix = time.Now().Unix()
	m.mu.Lock()
	m.lastSelection = &sel
	m.mu.Unlock()
	m.saveSelection(sel)
}

// rememberSampling stores explicit sampling settings of a completed
// generation on the last selection when it names the same preset.
func (m *Manager) rememberSampling(presetID string, req Request) {
	if req.Temperature == nil && req.MaxTokens == 0 && req.TopP == 0 {
		return
	}
	m.mu.Lock()
	if m.lastSelection == nil || m.lastSelection.PresetID != presetID {
		m.mu.Unlock()
		return
	}
	sel := *m.lastSelection
	if req.Temperature != nil {
		t := *req.Temperature
		sel.Temperature = &t
	}
	if req.MaxTokens > 0 {
		sel.MaxTokens = req.MaxTokens
	}
	if req.TopP > 0 {
		sel.TopP = req.TopP
	}
	sel.SavedUnix = time.Now().Unix()
	m.lastSelection = &sel
	m.mu.Unlock()
	m.saveSelection(sel)
}

func (m *Manager) saveSelection(sel types.Selection) {
	if m.selectionPath == "" {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	b, err := json.MarshalIndent(sel, "", "  ")
	if err != nil {
		return
	}
	if err := fsutil.WriteFileAtomic(m.selectionPath, b, 0o644); err != nil {
		m.log.Warn().Err(err).Str("event", "selection_save_failed").Str("path", m.selectionPath).Msg("could not persist selection")
	}
}

// LastSelection returns the persisted selection, if any.
func (m *Manager) LastSelection() (types.Selection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastSelection == nil {
		return types.Selection{}, false
	}
	return *m.lastSelection, true
}

// RestoreLast selects the persisted preset again. It is a no-op without one.
func (m *Manager) RestoreLast(ctx context.Context) error {
	sel, ok := m.LastSelection()
	if !ok {
		return nil
	}
	m.publisher.Publish(Event{Name: EventSelectionRestore, PresetID: sel.PresetID, Fields: map[string]any{"device": sel.Device, "precision": sel.Precision}})
	_, err := m.Select(ctx, sel.PresetID, sel.Device, sel.Precision)
	return err
}

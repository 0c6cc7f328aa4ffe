package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ysm446/sd-to-wan-prompt/internal/backend"
	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/prompt"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Submit starts a generation on the slot holding the requested preset. It
// returns once the request is admitted; with a queue it may wait up to the
// configured max wait behind the running generation.
func (m *Manager) Submit(ctx context.Context, req Request) (*Stream, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	conv, err := prompt.Compose(prompt.Input{
		Mode:        req.Mode,
		Image:       req.Image,
		ImageMIME:   req.ImageMIME,
		Metadata:    req.Metadata,
		Language:    req.Language,
		Style:       req.Style,
		Sections:    req.Sections,
		Instruction: req.Instruction,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	s, err := m.resolveSlotLocked(req.PresetID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	p, h := s.preset, s.handle
	if err := m.reserveLocked(s, p.ID); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	gctx, cancel := context.WithCancel(ctx)
	st := newStream(uuid.NewString(), p.ID, cancel)
	m.streams[st.RequestID] = st
	m.mu.Unlock()

	if err := m.acquire(gctx, s, p.ID); err != nil {
		m.dropStream(st.RequestID)
		cancel()
		return nil, err
	}
	m.mu.Lock()
	if m.releasing || s.handle != h {
		m.mu.Unlock()
		s.release()
		m.dropStream(st.RequestID)
		cancel()
		return nil, errs.NotReady("submit", p.ID, "backend is being released")
	}
	s.state = StateGenerating
	s.active = st.RequestID
	m.mu.Unlock()

	params := resolveParams(p, req)
	m.publisher.Publish(Event{Name: EventGenerateStart, PresetID: p.ID, Fields: map[string]any{
		"request_id": st.RequestID, "mode": string(req.Mode), "temperature": params.Temperature, "max_tokens": params.MaxTokens,
	}})
	go m.run(gctx, s, h, st, conv, params, req)
	return st, nil
}

// Cancel stops an admitted request. Unknown or finished ids are a state violation.
func (m *Manager) Cancel(requestID string) error {
	m.mu.RLock()
	st := m.streams[requestID]
	m.mu.RUnlock()
	if st == nil {
		return errs.Conflict("cancel", requestID, "not active")
	}
	st.Cancel()
	return nil
}

// run drives one generation and settles the slot afterwards.
func (m *Manager) run(ctx context.Context, s *slot, h backend.Handle, st *Stream, conv prompt.Conversation, params backend.Params, req Request) {
	start := time.Now()
	var text strings.Builder
	res, err := h.Generate(ctx, conv, params, func(frag string) error {
		select {
		case st.fragments <- frag:
			text.WriteString(frag)
			fragmentsTotal.Inc()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	out := Result{Text: text.String(), FinishReason: res.FinishReason, Usage: res.Usage}
	switch {
	case err == nil:
		out.Status = StatusCompleted
	case ctx.Err() != nil:
		out.Status = StatusCancelled
		out.Err = errs.Cancelled("generate", st.RequestID)
	default:
		out.Status = StatusFailed
		out.Err = asKinded("generate", st.PresetID, err)
	}

	m.mu.Lock()
	if s.state == StateGenerating {
		s.state = StateReady
	}
	s.active = ""
	delete(m.streams, st.RequestID)
	m.mu.Unlock()
	s.release()

	generationsTotal.WithLabelValues(string(req.Mode), string(out.Status)).Inc()
	fields := map[string]any{
		"request_id": st.RequestID, "status": string(out.Status), "chars": len(out.Text), "duration_ms": time.Since(start).Milliseconds(),
	}
	if out.Err != nil {
		fields["error"] = out.Err.Error()
	}
	m.publisher.Publish(Event{Name: EventGenerateEnd, PresetID: st.PresetID, Fields: fields})
	if out.Status == StatusCompleted {
		m.rememberSampling(st.PresetID, req)
	}
	st.finish(out)
}

func (m *Manager) dropStream(id string) {
	m.mu.Lock()
	delete(m.streams, id)
	m.mu.Unlock()
}

// resolveSlotLocked finds the resident slot serving presetID, or the only
// resident slot when presetID is empty. Caller holds mu.
func (m *Manager) resolveSlotLocked(presetID string) (*slot, error) {
	subject := presetID
	if subject == "" {
		subject = "(unspecified)"
	}
	if m.releasing {
		return nil, errs.NotReady("submit", subject, "release in progress")
	}
	var found []*slot
	for _, s := range m.sortedSlotsLocked() {
		if s.resident() && (presetID == "" || s.preset.ID == presetID) {
			found = append(found, s)
		}
	}
	switch {
	case len(found) == 0:
		if presetID != "" {
			if _, ok := m.catalog.Get(presetID); !ok {
				return nil, ErrPresetNotFound(presetID)
			}
		}
		return nil, errs.NotReady("submit", subject, "no backend selected")
	case len(found) > 1 && presetID == "":
		return nil, errs.Invalid("submit", "preset_id", "several presets are resident; name one")
	}
	return found[0], nil
}

// resolveParams applies request settings over preset defaults over mode
// defaults. A preset temperature of zero counts as unset.
func resolveParams(p registry.Preset, req Request) backend.Params {
	d := prompt.ModeDefaults(req.Mode)
	out := backend.Params{Temperature: d.Temperature, MaxTokens: d.MaxTokens}
	if p.Defaults.Temperature > 0 {
		out.Temperature = p.Defaults.Temperature
	}
	if p.Defaults.MaxTokens > 0 {
		out.MaxTokens = p.Defaults.MaxTokens
	}
	if p.Defaults.TopP > 0 {
		out.TopP = p.Defaults.TopP
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.TopP > 0 {
		out.TopP = req.TopP
	}
	return out
}

// validateRequest maps validator failures to an invalid-request error that
// names every offending field.
func validateRequest(req Request) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.Invalid("submit", "request", err.Error())
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return errs.Invalid("submit", "request", strings.Join(parts, "; "))
}

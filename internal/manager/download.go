package manager

import (
	"context"
	"sync"
	"time"

	"github.com/ysm446/sd-to-wan-prompt/internal/download"
	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
	"github.com/ysm446/sd-to-wan-prompt/internal/store"
)

// Download fetches the artifact of presetID into the store and returns its
// record. Concurrent calls for one preset share a single transfer and every
// waiting caller receives its progress. A caller whose ctx ends stops waiting
// with a cancelled error; the transfer is cancelled only once no caller is
// left. force discards a complete local copy first; it is refused while the
// preset is resident.
func (m *Manager) Download(ctx context.Context, presetID string, force bool, onProgress func(download.Progress)) (store.Record, error) {
	p, ok := m.catalog.Get(presetID)
	if !ok {
		return store.Record{}, ErrPresetNotFound(presetID)
	}
	if p.LocalPath != "" {
		return store.Record{}, errs.Invalid("download", presetID, "local presets are not downloadable")
	}
	if m.store == nil || m.fetcher == nil {
		return store.Record{}, errs.Unsupported("download", presetID, "downloads are disabled")
	}
	if !force && m.store.Has(p.ID) {
		rec, _ := m.store.Get(p.ID)
		if onProgress != nil {
			onProgress(download.Progress{Completed: rec.SizeBytes, Total: rec.SizeBytes, FilesDone: len(rec.Files), FilesTotal: len(rec.Files), Done: true})
		}
		return rec, nil
	}
	if force && m.isResident(p.ID) {
		return store.Record{}, errs.Busy("download", presetID, "preset is loaded; release it first")
	}

	sd, ticket := m.joinDownload(ctx, p.ID, onProgress)
	defer m.leaveDownload(p.ID, sd, ticket)
	for attempt := 0; ; attempt++ {
		ch := m.downloads.DoChan(p.ID, func() (any, error) {
			return m.fetch(sd.ctx, p, force, sd.progress(&m.dlMu))
		})
		select {
		case <-ctx.Done():
			return store.Record{}, errs.Cancelled("download", presetID)
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(store.Record), nil
			}
			// joined a transfer its own callers abandoned; start ours
			if errs.Is(res.Err, errs.KindCancelled) && sd.ctx.Err() == nil && attempt < maxJoinAttempts {
				continue
			}
			return store.Record{}, res.Err
		}
	}
}

const maxJoinAttempts = 3

// sharedDownload is one transfer and the callers waiting on it. Its context
// outlives any single caller and ends when the last one leaves.
type sharedDownload struct {
	ctx       context.Context
	cancel    context.CancelFunc
	listeners map[int]func(download.Progress)
	next      int
}

// progress fans p out to the current waiters. Guarded by mu so no listener
// runs after its caller has left.
func (sd *sharedDownload) progress(mu *sync.Mutex) func(download.Progress) {
	return func(p download.Progress) {
		mu.Lock()
		defer mu.Unlock()
		for _, fn := range sd.listeners {
			if fn != nil {
				fn(p)
			}
		}
	}
}

func (m *Manager) joinDownload(ctx context.Context, presetID string, onProgress func(download.Progress)) (*sharedDownload, int) {
	m.dlMu.Lock()
	defer m.dlMu.Unlock()
	if m.inflight == nil {
		m.inflight = make(map[string]*sharedDownload)
	}
	sd := m.inflight[presetID]
	if sd == nil {
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		sd = &sharedDownload{ctx: sctx, cancel: cancel, listeners: make(map[int]func(download.Progress))}
		m.inflight[presetID] = sd
	}
	sd.next++
	sd.listeners[sd.next] = onProgress
	return sd, sd.next
}

func (m *Manager) leaveDownload(presetID string, sd *sharedDownload, ticket int) {
	m.dlMu.Lock()
	defer m.dlMu.Unlock()
	delete(sd.listeners, ticket)
	if len(sd.listeners) > 0 {
		return
	}
	sd.cancel()
	if m.inflight[presetID] == sd {
		delete(m.inflight, presetID)
	}
}

// downloadingLocked reports whether a caller is waiting on a transfer of
// presetID. Callers hold dlMu.
func (m *Manager) downloadingLocked(presetID string) bool {
	return m.inflight[presetID] != nil
}

// fetch runs Begin, Fetch and Finalize. Staged bytes survive transient
// failures and cancellation so the next attempt resumes; fatal failures
// discard them.
func (m *Manager) fetch(ctx context.Context, p registry.Preset, force bool, onProgress func(download.Progress)) (store.Record, error) {
	start := time.Now()
	m.publisher.Publish(Event{Name: EventDownloadStart, PresetID: p.ID, Fields: map[string]any{"repo_id": p.RepoID, "revision": p.Revision, "force": force}})
	if force {
		if err := m.store.Remove(p.ID); err != nil {
			return store.Record{}, m.failDownload(p, err)
		}
	}
	stg, err := m.store.Begin(p)
	if err != nil {
		return store.Record{}, m.failDownload(p, err)
	}
	req := download.Request{RepoID: p.RepoID, Revision: p.Revision, Include: p.Include, Exclude: p.Exclude}
	expected, err := m.fetcher.Fetch(ctx, req, stg.Dir, onProgress)
	if err != nil {
		if fatalDownload(err) {
			_ = m.store.Abort(p.ID)
		}
		return store.Record{}, m.failDownload(p, err)
	}
	if err := m.store.Finalize(p.ID, expected); err != nil {
		_ = m.store.Abort(p.ID)
		return store.Record{}, m.failDownload(p, err)
	}
	rec, _ := m.store.Get(p.ID)
	downloadsTotal.WithLabelValues("ok").Inc()
	downloadBytes.Add(float64(rec.SizeBytes))
	m.publisher.Publish(Event{Name: EventDownloadDone, PresetID: p.ID, Fields: map[string]any{
		"size": rec.HumanSize(), "files": len(rec.Files), "duration_ms": time.Since(start).Milliseconds(),
	}})
	return rec, nil
}

func (m *Manager) failDownload(p registry.Preset, err error) error {
	err = asKinded("download", p.ID, err)
	downloadsTotal.WithLabelValues(outcomeOf(err)).Inc()
	m.publisher.Publish(Event{Name: EventDownloadFailed, PresetID: p.ID, Fields: map[string]any{"kind": kindOf(err), "error": err.Error()}})
	return err
}

// fatalDownload reports failures that retrying cannot fix.
func fatalDownload(err error) bool {
	switch errs.KindOf(err) {
	case errs.KindFatalPermission, errs.KindResourceExhaustion, errs.KindIntegrityFailure:
		return true
	}
	return errs.IsInvalid(err)
}

// isResident reports whether any slot holds or is switching to presetID.
func (m *Manager) isResident(presetID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isResidentLocked(presetID)
}

func (m *Manager) isResidentLocked(presetID string) bool {
	for _, s := range m.slots {
		if s.preset.ID == presetID && (s.handle != nil || s.state == StateLoading || s.loadCancel != nil) {
			return true
		}
	}
	return false
}

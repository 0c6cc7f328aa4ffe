package manager

import "github.com/rs/zerolog"

// Event represents a manager lifecycle event.
// Minimal and stable: name + preset ID and optional fields via key/values.
type Event struct {
	Name     string
	PresetID string
	Fields   map[string]any
}

// Event names.
const (
	EventSelectStart      = "select_start"
	EventLoadReady        = "load_ready"
	EventLoadFailed       = "load_failed"
	EventUnloadStart      = "unload_start"
	EventUnloadDone       = "unload_done"
	EventSlotEmpty        = "slot_empty"
	EventGenerateStart    = "generate_start"
	EventGenerateEnd      = "generate_end"
	EventDownloadStart    = "download_start"
	EventDownloadDone     = "download_done"
	EventDownloadFailed   = "download_failed"
	EventArtifactRemoved  = "artifact_removed"
	EventSelectionRestore = "selection_restore"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes events to a zerolog logger.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	ev := p.Log.Info()
	if e.Name == EventLoadFailed || e.Name == EventDownloadFailed {
		ev = p.Log.Warn()
	}
	ev.Str("event", e.Name).Str("preset", e.PresetID).Fields(e.Fields).Msg("manager event")
}

// MultiPublisher fans an event out to several publishers in order.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		p.Publish(e)
	}
}

// Package manager owns the backend slots: it downloads artifacts on demand,
// loads and switches presets, admits generations in order and streams their
// fragments. It is structured into small files by concern:
//
//   - manager.go: core Manager type, preset listing, slot lookup.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: slot states, Request and Result.
//   - errors.go: error helpers (IsTooBusy, IsPresetNotFound, IsNotReady).
//   - select.go: Select, artifact resolution and the load path.
//   - admission.go: per-slot FIFO queueing of generations.
//   - submit.go, stream.go: Submit, Cancel and the Stream a caller reads.
//   - generate.go: NDJSON streaming entry point used by HTTP.
//   - release.go: draining and unloading every slot.
//   - download.go, artifacts.go: store population and maintenance.
//   - selection.go: last_selection.json persistence and restore.
//   - status_report.go: Describe snapshots.
//   - events.go, metrics.go: lifecycle events and Prometheus collectors.
//   - sanity.go: runtime preflight checks.
//
// A slot exists per resource class: one "default" slot in shared mode, one
// per device in per_device mode. A slot holds at most one handle.
package manager

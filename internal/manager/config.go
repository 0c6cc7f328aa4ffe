package manager

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ysm446/sd-to-wan-prompt/internal/backend"
	"github.com/ysm446/sd-to-wan-prompt/internal/download"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
	"github.com/ysm446/sd-to-wan-prompt/internal/store"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxWait      = 30 * time.Second
	defaultDrainTimeout = 30 * time.Second
	selectionFile       = "last_selection.json"
)

// Fetcher downloads the files of a repository into dir.
type Fetcher interface {
	Fetch(ctx context.Context, req download.Request, dir string, onProgress func(download.Progress)) ([]store.ExpectedFile, error)
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Catalog *registry.Catalog
	Store   *store.Store
	// Fetcher may be nil when downloads are disabled.
	Fetcher  Fetcher
	Adapters []backend.Adapter

	// Mode is ModeShared (default) or ModePerDevice.
	Mode string
	// MaxQueueDepth is how many generations may wait behind the running one.
	// Zero rejects a second submit immediately.
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration
	AutoDownload  bool

	DefaultDevice    string
	DefaultPrecision string
	// VRAMBudgetMB lets device "auto" pick the first accelerator.
	VRAMBudgetMB int

	// StateDir holds last_selection.json; empty disables persistence.
	StateDir  string
	Publisher EventPublisher
	Logger    zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		catalog:          cfg.Catalog,
		store:            cfg.Store,
		fetcher:          cfg.Fetcher,
		adapters:         make(map[registry.Kind]backend.Adapter, len(cfg.Adapters)),
		mode:             cfg.Mode,
		maxQueueDepth:    cfg.MaxQueueDepth,
		maxWait:          cfg.MaxWait,
		drainTimeout:     cfg.DrainTimeout,
		autoDownload:     cfg.AutoDownload,
		defaultDevice:    cfg.DefaultDevice,
		defaultPrecision: cfg.DefaultPrecision,
		vramBudgetMB:     cfg.VRAMBudgetMB,
		publisher:        cfg.Publisher,
		log:              cfg.Logger,
		slots:            make(map[string]*slot),
		streams:          make(map[string]*Stream),
		startTime:        time.Now(),
	}
	for _, a := range cfg.Adapters {
		m.adapters[a.Kind()] = a
	}
	// Apply defaults if unset
	if m.catalog == nil {
		m.catalog, _ = registry.NewCatalog()
	}
	if m.mode != ModePerDevice {
		m.mode = ModeShared
	}
	if m.maxQueueDepth < 0 {
		m.maxQueueDepth = 0
	}
	if m.maxWait <= 0 {
		m.maxWait = defaultMaxWait
	}
	if m.drainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	}
	if m.defaultDevice == "" {
		m.defaultDevice = "auto"
	}
	if m.defaultPrecision == "" || m.defaultPrecision == "auto" {
		m.defaultPrecision = backend.DefaultPrecision
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.StateDir != "" {
		m.selectionPath = filepath.Join(cfg.StateDir, selectionFile)
		m.loadSelection()
	}
	return m
}

package main

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ysm446/sd-to-wan-prompt/internal/backend"
	"github.com/ysm446/sd-to-wan-prompt/internal/config"
	"github.com/ysm446/sd-to-wan-prompt/internal/download"
	"github.com/ysm446/sd-to-wan-prompt/internal/manager"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
	"github.com/ysm446/sd-to-wan-prompt/internal/store"
)

// buildManager wires the catalog, store, downloader and backend adapters
// described by cfg into a Manager.
func buildManager(cfg config.Config, log zerolog.Logger) (*manager.Manager, error) {
	cat, err := registry.Load(cfg.Models.PresetsFile)
	if err != nil {
		return nil, err
	}
	if cfg.Models.LocalDir != "" {
		found, err := registry.ScanDir(cfg.Models.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", cfg.Models.LocalDir, err)
		}
		for _, p := range found {
			if err := cat.Add(p); err != nil {
				log.Warn().Err(err).Str("event", "local_preset_skipped").Str("preset", p.ID).Msg("ignoring local model")
			}
		}
	}

	st, err := store.Open(cfg.Models.Dir, store.WithLogger(log.With().Str("component", "store").Logger()))
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Hub.Timeout
	client := download.NewClient(
		download.WithEndpoint(cfg.Hub.Endpoint),
		download.WithToken(cfg.Hub.Token),
		download.WithUserAgent(cfg.Hub.UserAgent),
		download.WithHTTPClient(&http.Client{Transport: transport}),
		download.WithBreaker(uint32(cfg.Hub.BreakerFailures), cfg.Hub.BreakerCooldown),
		download.WithClientLogger(log.With().Str("component", "hub").Logger()),
	)
	fetcher := download.New(client, download.Config{
		MaxRetries:  cfg.Hub.MaxRetries,
		Parallelism: cfg.Hub.Parallelism,
	}, log.With().Str("component", "download").Logger())

	rt := cfg.Runtime
	opts := backend.Options{
		Host:         rt.Host,
		ContextSize:  rt.ContextSize,
		Threads:      rt.Threads,
		VRAMBudgetMB: rt.VRAMBudgetMB,
		ReadyTimeout: rt.ReadyTimeout,
		StopGrace:    rt.StopGrace,
		Logger:       log.With().Str("component", "backend").Logger(),
	}
	adapters := []backend.Adapter{
		backend.NewStandard(rt.StandardBin, rt.StandardArgs, rt.StandardEndpoint, opts),
		backend.NewCompressed(rt.LlamaBin, rt.LlamaArgs, rt.LlamaEndpoint, opts),
	}

	s := cfg.Session
	return manager.NewWithConfig(manager.ManagerConfig{
		Catalog:          cat,
		Store:            st,
		Fetcher:          fetcher,
		Adapters:         adapters,
		Mode:             s.Mode,
		MaxQueueDepth:    s.MaxQueueDepth,
		MaxWait:          s.MaxWait,
		DrainTimeout:     s.DrainTimeout,
		AutoDownload:     s.AutoDownload,
		DefaultDevice:    s.DefaultDevice,
		DefaultPrecision: s.DefaultPrecision,
		VRAMBudgetMB:     rt.VRAMBudgetMB,
		StateDir:         cfg.Models.StateDir,
		Publisher:        manager.LogPublisher{Log: log.With().Str("component", "manager").Logger()},
		Logger:           log.With().Str("component", "manager").Logger(),
	}), nil
}

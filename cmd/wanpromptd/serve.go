package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/ysm446/sd-to-wan-prompt/docs" // swagger document
	"github.com/ysm446/sd-to-wan-prompt/internal/httpapi"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr, corsOrigins string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API",
		Example: "  wanpromptd serve --addr :8080\n  wanpromptd --config wanprompt.yaml serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if corsOrigins != "" {
				cfg.Server.CORSEnabled = true
				cfg.Server.CORSOrigins = splitCSV(corsOrigins)
			}
			log := opts.log

			mgr, err := buildManager(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			httpapi.SetLogger(log.With().Str("component", "http").Logger())
			httpapi.SetBaseContext(ctx)
			httpapi.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)
			httpapi.SetGenerateTimeout(cfg.Server.GenerateTimeout)
			httpapi.SetCORSOptions(cfg.Server.CORSEnabled, cfg.Server.CORSOrigins, nil, nil)
			httpapi.SetRateLimit(cfg.Server.RateLimit)
			httpapi.SetSwagger(cfg.Server.Swagger)

			if rep := mgr.SanityCheck(ctx); !rep.OK() {
				log.Warn().Str("event", "preflight").Interface("report", rep).Msg("no usable runtime or store; requests will fail until fixed")
			}
			if cfg.Session.RestoreLast {
				// loading may take minutes; serve meanwhile
				go func() {
					if err := mgr.RestoreLast(ctx); err != nil {
						log.Warn().Err(err).Str("event", "restore_failed").Msg("could not restore last selection")
					}
				}()
			}

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: httpapi.NewMux(mgr)}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("event", "listen").Str("addr", cfg.Server.Addr).Str("models_dir", cfg.Models.Dir).Msg("wanpromptd listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			// Graceful shutdown: stop accepting, then drain and unload backends.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Str("event", "shutdown").Msg("graceful shutdown error")
			}
			return mgr.Close(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080 (overrides config)")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma separated origins; enables CORS")
	return cmd
}

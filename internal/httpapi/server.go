package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ysm446/sd-to-wan-prompt/internal/download"
	"github.com/ysm446/sd-to-wan-prompt/internal/manager"
	"github.com/ysm446/sd-to-wan-prompt/internal/store"
	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListPresets() []types.PresetInfo
	Download(ctx context.Context, presetID string, force bool, onProgress func(download.Progress)) (store.Record, error)
	Select(ctx context.Context, presetID, device, precision string) (types.SlotStatus, error)
	Release(ctx context.Context) error
	Describe() types.DescribeResponse
	Generate(ctx context.Context, req manager.Request, w io.Writer, flush func()) error
	Cancel(requestID string) error
	ListArtifacts() []types.ArtifactInfo
	RemoveArtifact(presetID string) error
	Rescan() error
	SanityCheck(ctx context.Context) manager.SanityReport
}

type server struct {
	svc Service
}

func NewMux(svc Service) http.Handler {
	s := &server{svc: svc}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// NDJSON is not in the compressible set, so streams stay unbuffered.
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "X-Log-Level", "X-Request-Id"}),
			MaxAge:         300,
		}))
	}

	r.Group(func(api chi.Router) {
		if rateLimit > 0 {
			api.Use(httprate.Limit(rateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					IncrementBackpressure("rate_limit")
					writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				}),
			))
		}
		api.Get("/presets", s.listPresets)
		api.Post("/presets/{id}/download", s.downloadPreset)

		api.Get("/backend", s.describe)
		api.Post("/backend/select", s.selectBackend)
		api.Post("/backend/release", s.releaseBackend)

		api.Post("/generate", s.generate)
		api.Post("/generate/{requestID}/cancel", s.cancel)

		api.Get("/artifacts", s.listArtifacts)
		api.Delete("/artifacts/{id}", s.removeArtifact)
		api.Post("/artifacts/rescan", s.rescan)

		api.Post("/metadata", s.metadata)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.readyz)

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

// Package httpapi exposes the engine over HTTP: runner and model listings,
// runtime settings, and blocking or NDJSON-streamed inference per capability.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Runners() types.RunnersResponse
	Models(ctx context.Context) types.ModelsResponse
	Status(ctx context.Context) types.StatusResponse
	CurrentSettings() settings.EngineSettings
	UpdateSettings(next settings.EngineSettings) (settings.EngineSettings, error)
	Infer(ctx context.Context, c types.Capability, req types.InferenceRequest) (types.InferenceResult, error)
	InferStream(ctx context.Context, c types.Capability, req types.InferenceRequest) (<-chan types.InferenceResult, error)
	UnloadRunner(ctx context.Context, name string) error
	Ready() bool
}

// NewMux builds the router. The returned handler is already instrumented.
func NewMux(svc Service) http.Handler {
	h := &handlers{svc: svc}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/runners", h.runners)
	r.Post("/runners/{name}/unload", h.unloadRunner)
	r.Get("/models", h.models)
	r.Get("/status", h.status)
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.putSettings)
	r.Post("/infer/{capability}", h.infer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Handle("/metrics", promhttp.Handler())
	MountSwagger(r)
	return r
}

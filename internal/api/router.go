package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/metrics"
)

// RouterOptions carries the optional instrumentation for NewRouter.
type RouterOptions struct {
	Logger    *zap.Logger
	Collector *metrics.Collector
	// MetricsHandler is mounted at /metrics when non-nil.
	MetricsHandler http.Handler
}

func NewRouter(apiHandler *APIHandler, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger.With(zap.String("component", "http"))))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	if opts.Collector != nil {
		r.Use(Metrics(opts.Collector))
	}

	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Get("/gallery", apiHandler.GalleryHandler)

		// Relays
		r.Post("/generate", apiHandler.GenerateHandler)
		r.Post("/convert-model", apiHandler.ConvertHandler)
		r.Get("/proxy-model", apiHandler.ProxyModelHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.AuthMiddleware)

			r.Post("/models", apiHandler.ShareModelHandler)
			r.Patch("/models/{modelID}", apiHandler.UpdateModelHandler)
			r.Delete("/models/{modelID}", apiHandler.DeleteModelHandler)

			r.Get("/profile", apiHandler.GetProfileHandler)
			r.Put("/profile", apiHandler.UpdateProfileHandler)

			r.Get("/consent", apiHandler.GetConsentHandler)
			r.Post("/consent", apiHandler.SubmitConsentHandler)
			r.Put("/consent", apiHandler.CompleteConsentHandler)
		})
	})

	return r
}

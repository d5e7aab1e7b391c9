package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/miradorstack/outage-watch/internal/config"
	"github.com/miradorstack/outage-watch/internal/services"
)

// Options wires the HTTP surface.
type Options struct {
	Logger    *slog.Logger
	Service   *services.StatusService
	RateLimit config.RateLimitConfig
	// Hub serves /ws when set.
	Hub http.Handler
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the chi router for the query API.
func NewRouter(opts Options) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http"))
	h := &handlers{logger: logger, service: opts.Service}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/", h.getRoot)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Hub != nil {
		r.Method(http.MethodGet, "/ws", opts.Hub)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.getHealth)
		r.Get("/metrics", h.getMetrics)

		r.Group(func(r chi.Router) {
			if opts.RateLimit.Enabled {
				r.Use(NewRateLimiter(opts.RateLimit.RequestsPerMinute).Middleware)
			}
			r.Get("/status", h.getStatus)
			r.Get("/status/{service}", h.getService)
			r.Get("/changes", h.getChanges)
			r.Get("/hotspots", h.getHotspots)
			r.Get("/services", h.getServices)
			r.Post("/cycles/manual", h.postManualCycle)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrorDetail{Code: "NOT_FOUND", Message: "route not found"})
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

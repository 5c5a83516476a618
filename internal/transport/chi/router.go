package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/shopgeo/internal/metrics"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	CORSOrigin string
	RateRPS    float64
	RateBurst  int
}

// NewRouter mounts the server's handlers on a chi router with the standard
// middleware chain.
func NewRouter(s *Server, cfg RouterConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(CORSMiddleware(cfg.CORSOrigin))
	r.Use(RateLimitMiddleware(cfg.RateRPS, cfg.RateBurst))
	r.Use(metrics.Middleware())

	r.Get("/search", s.SearchProducts)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrorCodeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorCodeBadRequest, "method not allowed")
	})

	return r
}

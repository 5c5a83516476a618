package chi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/shopgeo/internal/domain"
	"github.com/kailas-cloud/shopgeo/internal/domain/search/request"
	healthuc "github.com/kailas-cloud/shopgeo/internal/usecase/health"
	searchuc "github.com/kailas-cloud/shopgeo/internal/usecase/search"
)

// Query parameter names.
const (
	paramLat     = "lat"
	paramLng     = "lng"
	paramRadius  = "radius"
	paramCount   = "count"
	paramTags    = "tags"
	paramTagsArr = "tags[]"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the shopgeo HTTP API.
type Server struct {
	search        *searchuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(search *searchuc.Service, health *healthuc.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		search: search,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidCoordinates, http.StatusBadRequest, ErrorCodeInvalidCoordinates),
		sentinelHandler(domain.ErrInvalidLimit, http.StatusNotFound, ErrorCodeInvalidCount),
		sentinelHandler(domain.ErrFieldDoesNotExist, http.StatusBadRequest, ErrorCodeBadRequest),
		sentinelHandler(domain.ErrObjectNotFound, http.StatusInternalServerError, ErrorCodeDataIntegrity),
	}
	return s
}

// SearchProducts handles GET /search.
func (s *Server) SearchProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := request.Params{
		Lat:   q.Get(paramLat),
		Lng:   q.Get(paramLng),
		Limit: q.Get(paramCount),
		Tags:  slices.Concat(q[paramTagsArr], q[paramTags]),
	}
	if raw := strings.TrimSpace(q.Get(paramRadius)); raw != "" {
		meters, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(meters) {
			writeError(w, http.StatusBadRequest, ErrorCodeInvalidCoordinates, "invalid radius")
			return
		}
		params.Radius = strconv.FormatFloat(meters*request.MetersToIndexUnits, 'g', -1, 64)
	}

	req, err := request.Parse(params)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	views, err := s.search.Search(r.Context(), &req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if views == nil {
		views = []searchuc.View{}
	}

	writeJSON(w, http.StatusOK, SearchResponse{Products: views})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a client-facing message without exposing internals.
// Request validation errors echo only the client's own input.
func safeDomainMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidCoordinates), errors.Is(err, domain.ErrInvalidLimit):
		return err.Error()
	}
	var fe *domain.FieldError
	if errors.As(err, &fe) {
		return fe.Error()
	}
	if errors.Is(err, domain.ErrObjectNotFound) {
		return domain.ErrObjectNotFound.Error()
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}

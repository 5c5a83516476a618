package health

import (
	"context"

	"github.com/kailas-cloud/shopgeo/internal/domain/record"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates the cache is unreachable; searches still compute.
	Degraded Status = "degraded"
	// Unhealthy indicates no dataset is loaded.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckDisabled marks a component that is not configured.
	CheckDisabled CheckResult = "disabled"
)

// Component names.
const (
	ComponentDataset = "dataset"
	ComponentCache   = "cache"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	dataset Dataset
	cache   CachePinger
}

// New creates a Service. cache can be nil when caching is disabled.
func New(dataset Dataset, cache CachePinger) *Service {
	return &Service{dataset: dataset, cache: cache}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, 2)
	status := Healthy

	if s.dataset == nil || s.dataset.Len(record.Shops) == 0 {
		checks[ComponentDataset] = CheckError
		status = Unhealthy
	} else {
		checks[ComponentDataset] = CheckOK
	}

	switch {
	case s.cache == nil:
		checks[ComponentCache] = CheckDisabled
	case s.cache.Ping(ctx) != nil:
		checks[ComponentCache] = CheckError
		if status == Healthy {
			status = Degraded
		}
	default:
		checks[ComponentCache] = CheckOK
	}

	return Report{Status: status, Checks: checks}
}

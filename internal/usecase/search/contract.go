package search

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// View is the serialized form of a product: field name to scalar, with
// foreign keys expanded into nested views.
type View = map[string]any

// Built-in tuning defaults.
const (
	DefaultRadius       = 0.02
	DefaultCandidateCap = 250
	DefaultTTL          = 24 * time.Hour
)

// Config tunes the search pipeline.
type Config struct {
	// DefaultRadius applies when a request carries no radius (index units).
	DefaultRadius float64
	// CandidateCap bounds the spatial query independently of the result limit.
	CandidateCap int
	// ResponseTTL is the lifetime of a memoized full response.
	ResponseTTL time.Duration
	// SubresultTTL is the lifetime of memoized tag, spatial and per-shop results.
	SubresultTTL time.Duration
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		DefaultRadius: DefaultRadius,
		CandidateCap:  DefaultCandidateCap,
		ResponseTTL:   DefaultTTL,
		SubresultTTL:  DefaultTTL,
	}
}

func (c Config) withDefaults() Config {
	if c.DefaultRadius <= 0 {
		c.DefaultRadius = DefaultRadius
	}
	if c.CandidateCap <= 0 {
		c.CandidateCap = DefaultCandidateCap
	}
	return c
}

// Observers receives pipeline measurements. Nil members are skipped.
type Observers struct {
	Duration *prometheus.HistogramVec // label: status
	Nearby   prometheus.Observer
}

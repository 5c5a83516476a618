package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search and cache Prometheus metrics.
var (
	CacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopgeo",
			Name:      "cache_total",
			Help:      "Result cache hits and misses per memo",
		},
		[]string{"cache", "result"}, // result: "hit" / "miss"
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shopgeo",
			Name:      "search_duration_seconds",
			Help:      "End-to-end search duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
		[]string{"status"},
	)

	SearchNearbyShops = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "shopgeo",
			Name:      "search_nearby_shops",
			Help:      "Shops returned by the spatial narrowing step",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	DatasetRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shopgeo",
			Name:      "dataset_records",
			Help:      "Records loaded per entity kind",
		},
		[]string{"kind"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shopgeo",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers the search, cache and dataset metrics.
// Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(CacheTotal, SearchDuration, SearchNearbyShops, DatasetRecords, RateLimitedTotal)
	searchMetricsRegistered = true
}

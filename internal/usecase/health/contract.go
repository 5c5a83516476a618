package health

import (
	"context"

	"github.com/kailas-cloud/shopgeo/internal/domain/record"
)

// CachePinger checks cache backend availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// Dataset reports how many records of a kind are loaded.
type Dataset interface {
	Len(kind record.Kind) int
}

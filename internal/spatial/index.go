// Package spatial answers bounded k-nearest-neighbor queries over shop
// coordinates. Distances are Euclidean on raw (lat, lng) degrees; there is no
// geodesic correction.
package spatial

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/shopgeo/internal/domain/entity"
)

// Coordinate fields read from shop entities.
const (
	LatField = "lat"
	LngField = "lng"
)

// Index is a k-d tree over a set of shops. It keeps the result of the last
// Query, so one Index serves one request and is not safe for concurrent use.
type Index struct {
	shops     []*entity.Entity
	locations []Point
	tree      *kdTree
	owners    map[Point]*entity.Entity
	last      []Point
}

// New returns an empty index; every query on it yields no points.
func New() *Index {
	return &Index{tree: buildTree(nil), owners: map[Point]*entity.Entity{}}
}

// Build replaces the index contents with shops. When several shops share a
// coordinate pair, the later one owns the point.
func (ix *Index) Build(shops []*entity.Entity) error {
	locations := make([]Point, len(shops))
	owners := make(map[Point]*entity.Entity, len(shops))
	distinct := make([]Point, 0, len(shops))
	for i, s := range shops {
		lat, err := s.Float(LatField)
		if err != nil {
			return fmt.Errorf("shop %s: %w", s.ID(), err)
		}
		lng, err := s.Float(LngField)
		if err != nil {
			return fmt.Errorf("shop %s: %w", s.ID(), err)
		}
		if !finite(lat) || !finite(lng) {
			return fmt.Errorf("shop %s: non-finite coordinates (%v, %v)", s.ID(), lat, lng)
		}
		p := Point{Lat: lat, Lng: lng}
		locations[i] = p
		if _, seen := owners[p]; !seen {
			distinct = append(distinct, p)
		}
		owners[p] = s
	}

	ix.shops = shops
	ix.locations = locations
	ix.owners = owners
	ix.tree = buildTree(distinct)
	ix.last = nil
	return nil
}

// Shops returns the indexed shops.
func (ix *Index) Shops() []*entity.Entity { return ix.shops }

// Locations returns the coordinates of Shops, in the same order.
func (ix *Index) Locations() []Point { return ix.locations }

// Len returns the number of distinct indexed points.
func (ix *Index) Len() int { return len(ix.tree.points) }

// Query returns at most k distinct points strictly closer than maxDistance to
// (lat, lng), nearest first, and remembers them for NearbyShops.
func (ix *Index) Query(lat, lng, maxDistance float64, k int) []Point {
	ix.last = nil
	if k <= 0 || !(maxDistance > 0) {
		return nil
	}
	found := ix.tree.nearest(Point{Lat: lat, Lng: lng}, k, maxDistance*maxDistance)
	points := make([]Point, len(found))
	for i, n := range found {
		points[i] = ix.tree.points[n.idx]
	}
	ix.last = points
	return points
}

// LastPoints returns the points of the last Query.
func (ix *Index) LastPoints() []Point { return ix.last }

// NearbyShops maps the last Query's points back to their owning shops.
// It panics if a point has no owner, which means the index is corrupt.
func (ix *Index) NearbyShops() []*entity.Entity {
	shops := make([]*entity.Entity, len(ix.last))
	for i, p := range ix.last {
		s, ok := ix.owners[p]
		if !ok {
			panic(fmt.Sprintf("spatial: point %v has no owning shop", p))
		}
		shops[i] = s
	}
	return shops
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

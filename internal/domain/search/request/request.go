package request

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/shopgeo/internal/domain"
)

// MetersToIndexUnits converts a radius given in meters into the unit the
// spatial index measures in.
const MetersToIndexUnits = 0.000621371

// Params are the raw, unvalidated search inputs as received by a transport.
// Empty strings mean absent.
type Params struct {
	Lat    string
	Lng    string
	Radius string
	Tags   []string
	Limit  string
}

// Request is a validated search query. Radius is expressed in index units
// (degrees); nil means the service default applies.
type Request struct {
	lat    float64
	lng    float64
	radius *float64
	tags   []string
	limit  int
}

// Parse validates raw params. Missing or unparseable lat, lng or radius fail
// with domain.ErrInvalidCoordinates; a missing, unparseable or non-positive
// limit fails with domain.ErrInvalidLimit. Coordinates are checked first.
func Parse(p Params) (Request, error) {
	lat, err := parseCoordinate("lat", p.Lat)
	if err != nil {
		return Request{}, err
	}
	lng, err := parseCoordinate("lng", p.Lng)
	if err != nil {
		return Request{}, err
	}

	var radius *float64
	if s := strings.TrimSpace(p.Radius); s != "" {
		r, perr := strconv.ParseFloat(s, 64)
		if perr != nil || math.IsNaN(r) {
			return Request{}, fmt.Errorf("%w: radius %q", domain.ErrInvalidCoordinates, p.Radius)
		}
		radius = &r
	}

	s := strings.TrimSpace(p.Limit)
	if s == "" {
		return Request{}, fmt.Errorf("%w: count is required", domain.ErrInvalidLimit)
	}
	limit, err := strconv.Atoi(s)
	if err != nil {
		return Request{}, fmt.Errorf("%w: count %q", domain.ErrInvalidLimit, p.Limit)
	}

	return New(lat, lng, radius, p.Tags, limit)
}

// New validates already-typed inputs. Blank tags are dropped, duplicates
// removed and the remainder sorted. Tag names are kept verbatim since they
// match stored tags exactly.
func New(lat, lng float64, radius *float64, tags []string, limit int) (Request, error) {
	if !finite(lat) || !finite(lng) {
		return Request{}, fmt.Errorf("%w: (%v, %v)", domain.ErrInvalidCoordinates, lat, lng)
	}
	if radius != nil && math.IsNaN(*radius) {
		return Request{}, fmt.Errorf("%w: radius is NaN", domain.ErrInvalidCoordinates)
	}
	if limit <= 0 {
		return Request{}, fmt.Errorf("%w: count must be positive, got %d", domain.ErrInvalidLimit, limit)
	}
	var r *float64
	if radius != nil {
		v := *radius
		r = &v
	}
	return Request{
		lat:    lat,
		lng:    lng,
		radius: r,
		tags:   normalizeTags(tags),
		limit:  limit,
	}, nil
}

// Lat returns the query latitude.
func (r *Request) Lat() float64 { return r.lat }

// Lng returns the query longitude.
func (r *Request) Lng() float64 { return r.lng }

// Radius returns the search radius and whether one was given.
func (r *Request) Radius() (float64, bool) {
	if r.radius == nil {
		return 0, false
	}
	return *r.radius, true
}

// Tags returns the normalized tag names.
func (r *Request) Tags() []string { return r.tags }

// Limit returns the maximum number of products to return.
func (r *Request) Limit() int { return r.limit }

// Canonical renders the request so that equal requests render identically.
func (r *Request) Canonical() string {
	radius := "default"
	if r.radius != nil {
		radius = formatFloat(*r.radius)
	}
	return fmt.Sprintf("lat=%s&lng=%s&radius=%s&tags=%q&limit=%d",
		formatFloat(r.lat), formatFloat(r.lng), radius, r.tags, r.limit)
}

func parseCoordinate(name, raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrInvalidCoordinates, name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(v) {
		return 0, fmt.Errorf("%w: %s %q", domain.ErrInvalidCoordinates, name, raw)
	}
	return v, nil
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

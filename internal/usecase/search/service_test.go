package search

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/shopgeo/internal/db/memory"
	"github.com/kailas-cloud/shopgeo/internal/domain"
	"github.com/kailas-cloud/shopgeo/internal/domain/record"
	"github.com/kailas-cloud/shopgeo/internal/domain/search/request"
	"github.com/kailas-cloud/shopgeo/internal/query"
)

func fixture() *record.Builder {
	return record.NewBuilder().
		MustAdd(record.Shops, "s1", map[string]string{"name": "Near", "lat": "0", "lng": "0"}).
		MustAdd(record.Shops, "s2", map[string]string{"name": "Close", "lat": "0", "lng": "0.01"}).
		MustAdd(record.Shops, "s3", map[string]string{"name": "Far", "lat": "1", "lng": "1"}).
		MustAdd(record.Products, "p1", map[string]string{
			"shop_id": "s1", "title": "Milk", "popularity": "0.2", "quantity": "3",
		}).
		MustAdd(record.Products, "p2", map[string]string{
			"shop_id": "s1", "title": "Bread", "popularity": "0.9", "quantity": "1",
		}).
		MustAdd(record.Products, "p3", map[string]string{
			"shop_id": "s2", "title": "Ball", "popularity": "0.5", "quantity": "7",
		}).
		MustAdd(record.Products, "p4", map[string]string{
			"shop_id": "s3", "title": "Map", "popularity": "1", "quantity": "2",
		}).
		MustAdd(record.Tags, "t1", map[string]string{"tag": "food"}).
		MustAdd(record.Tags, "t2", map[string]string{"tag": "sports"}).
		MustAdd(record.Tags, "t3", map[string]string{"tag": "unused"}).
		MustAdd(record.Taggings, "g1", map[string]string{"shop_id": "s1", "tag_id": "t1"}).
		MustAdd(record.Taggings, "g2", map[string]string{"shop_id": "s2", "tag_id": "t2"})
}

func newRequest(t *testing.T, lat, lng float64, radius *float64, tags []string, limit int) *request.Request {
	t.Helper()
	req, err := request.New(lat, lng, radius, tags, limit)
	require.NoError(t, err)
	return &req
}

func radius(r float64) *float64 { return &r }

func viewIDs(views []View) []string {
	ids := make([]string, len(views))
	for i, v := range views {
		ids[i], _ = v["id"].(string)
	}
	return ids
}

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"cache", "result"})
}

func TestSearch_Scenarios(t *testing.T) {
	svc := New(query.New(fixture().Build()), nil, DefaultConfig(), nil, nil)

	tests := []struct {
		name   string
		radius *float64
		tags   []string
		limit  int
		want   []string
	}{
		{"default radius, nearest shop first", nil, nil, 10, []string{"p2", "p1", "p3"}},
		{"limit cuts inside a shop", nil, nil, 1, []string{"p2"}},
		{"limit spans shops", nil, nil, 3, []string{"p2", "p1", "p3"}},
		{"wide radius reaches far shop", radius(2), nil, 10, []string{"p2", "p1", "p3", "p4"}},
		{"tight radius", radius(0.005), nil, 10, []string{"p2", "p1"}},
		{"zero radius", radius(0), nil, 10, []string{}},
		{"negative radius", radius(-1), nil, 10, []string{}},
		{"tag narrows shops", nil, []string{"sports"}, 10, []string{"p3"}},
		{"tags are a union", nil, []string{"sports", "food"}, 10, []string{"p2", "p1", "p3"}},
		{"tag with no taggings falls back to all shops", nil, []string{"unused"}, 10, []string{"p2", "p1", "p3"}},
		{"unknown tag falls back to all shops", nil, []string{"nope"}, 10, []string{"p2", "p1", "p3"}},
		{"tagged shop outside radius", radius(0.001), []string{"sports"}, 10, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views, err := svc.Search(context.Background(), newRequest(t, 0, 0, tt.radius, tt.tags, tt.limit))
			require.NoError(t, err)
			assert.Equal(t, tt.want, viewIDs(views))
		})
	}
}

func TestSearch_ViewExpandsShop(t *testing.T) {
	svc := New(query.New(fixture().Build()), nil, DefaultConfig(), nil, nil)

	views, err := svc.Search(context.Background(), newRequest(t, 0, 0, nil, []string{"sports"}, 1))
	require.NoError(t, err)
	require.Len(t, views, 1)

	v := views[0]
	assert.Equal(t, "Ball", v["title"])
	assert.InDelta(t, 0.5, v["popularity"], 0)
	shop, ok := v["shop"].(map[string]any)
	require.True(t, ok, "shop should be nested, got %T", v["shop"])
	assert.Equal(t, "s2", shop["id"])
	assert.Equal(t, "Close", shop["name"])
}

func TestSearch_CandidateCapBoundsShops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CandidateCap = 1
	svc := New(query.New(fixture().Build()), nil, cfg, nil, nil)

	views, err := svc.Search(context.Background(), newRequest(t, 0, 0, radius(2), nil, 10))
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p1"}, viewIDs(views))
}

func TestSearch_DanglingReferenceIsIntegrityError(t *testing.T) {
	b := fixture().MustAdd(record.Taggings, "g3", map[string]string{"shop_id": "ghost", "tag_id": "t1"})
	svc := New(query.New(b.Build()), nil, DefaultConfig(), nil, nil)

	_, err := svc.Search(context.Background(), newRequest(t, 0, 0, nil, []string{"food"}, 5))
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestSearch_CachesResponses(t *testing.T) {
	store, err := memory.NewStore(128)
	require.NoError(t, err)
	counter := newCounter()
	svc := New(query.New(fixture().Build()), store, DefaultConfig(), counter, nil).WithKeyPrefix("t:")

	ctx := context.Background()
	first, err := svc.Search(ctx, newRequest(t, 0, 0, nil, nil, 10))
	require.NoError(t, err)
	second, err := svc.Search(ctx, newRequest(t, 0, 0, nil, nil, 10))
	require.NoError(t, err)

	assert.Equal(t, viewIDs(first), viewIDs(second))
	assert.Equal(t, first[0]["shop"], second[0]["shop"])
	assert.InDelta(t, 1, testutil.ToFloat64(counter.WithLabelValues("search", "miss")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(counter.WithLabelValues("search", "hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(counter.WithLabelValues("nearby_shops", "miss")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(counter.WithLabelValues("shop_products", "miss")), 0)

	// A different limit is a different response but reuses the sub-results.
	_, err = svc.Search(ctx, newRequest(t, 0, 0, nil, nil, 1))
	require.NoError(t, err)
	assert.InDelta(t, 2, testutil.ToFloat64(counter.WithLabelValues("search", "miss")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(counter.WithLabelValues("nearby_shops", "hit")), 0)
}

func TestSearch_EquivalentRequestsShareCacheEntry(t *testing.T) {
	store, err := memory.NewStore(128)
	require.NoError(t, err)
	counter := newCounter()
	svc := New(query.New(fixture().Build()), store, DefaultConfig(), counter, nil)

	ctx := context.Background()
	_, err = svc.Search(ctx, newRequest(t, 0, 0, nil, []string{"food", "sports"}, 10))
	require.NoError(t, err)
	_, err = svc.Search(ctx, newRequest(t, 0, 0, nil, []string{"sports", "food", "food", " "}, 10))
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(counter.WithLabelValues("search", "hit")), 0)
}

func TestSearch_SharedCacheIsScopedToDataset(t *testing.T) {
	store, err := memory.NewStore(128)
	require.NoError(t, err)

	build := func(productID string) *record.Store {
		return record.NewBuilder().
			MustAdd(record.Shops, "s1", map[string]string{"name": "Near", "lat": "0", "lng": "0"}).
			MustAdd(record.Products, productID, map[string]string{
				"shop_id": "s1", "title": productID, "popularity": "1", "quantity": "1",
			}).
			Collection(record.Tags).Collection(record.Taggings).
			Build()
	}
	before := New(query.New(build("p1")), store, DefaultConfig(), nil, nil).WithKeyPrefix("shopgeo:")
	after := New(query.New(build("p9")), store, DefaultConfig(), nil, nil).WithKeyPrefix("shopgeo:")
	require.NotEqual(t, before.DatasetVersion(), after.DatasetVersion())

	ctx := context.Background()
	views, err := before.Search(ctx, newRequest(t, 0, 0, nil, nil, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, viewIDs(views))

	views, err = after.Search(ctx, newRequest(t, 0, 0, nil, nil, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"p9"}, viewIDs(views), "same request on a new dataset")

	views, err = after.Search(ctx, newRequest(t, 0, 0, nil, nil, 5))
	require.NoError(t, err, "sub-results from the old dataset must not leak")
	assert.Equal(t, []string{"p9"}, viewIDs(views))

	// An identical dataset reuses the entries.
	again := New(query.New(build("p1")), store, DefaultConfig(), nil, nil).WithKeyPrefix("shopgeo:")
	assert.Equal(t, before.DatasetVersion(), again.DatasetVersion())
}

func TestSearch_EndToEnd(t *testing.T) {
	ds := record.NewBuilder().
		MustAdd(record.Tags, "t1", map[string]string{"tag": "men"}).
		MustAdd(record.Shops, "s1", map[string]string{"name": "Shop", "lat": "59.33258", "lng": "18.0649"}).
		MustAdd(record.Taggings, "g1", map[string]string{"tag_id": "t1", "shop_id": "s1"}).
		MustAdd(record.Products, "p10", map[string]string{
			"shop_id": "s1", "title": "Socks", "popularity": "10", "quantity": "1",
		}).
		MustAdd(record.Products, "p90", map[string]string{
			"shop_id": "s1", "title": "Shirt", "popularity": "90", "quantity": "1",
		}).
		Build()
	svc := New(query.New(ds), nil, DefaultConfig(), nil, nil)

	popularity := func(views []View) []float64 {
		out := make([]float64, len(views))
		for i, v := range views {
			out[i], _ = v["popularity"].(float64)
		}
		return out
	}

	tests := []struct {
		name   string
		params request.Params
		want   []float64
	}{
		{
			"matching tag, limit 1",
			request.Params{Lat: "59.33258", Lng: "18.0649", Tags: []string{"men"}, Limit: "1"},
			[]float64{90},
		},
		{
			"unmatched tag falls back to all shops",
			request.Params{Lat: "59.33258", Lng: "18.0649", Tags: []string{"women"}, Limit: "2"},
			[]float64{90, 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := request.Parse(tt.params)
			require.NoError(t, err)
			views, err := svc.Search(context.Background(), &req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, popularity(views))
		})
	}

	_, err := request.Parse(request.Params{Lng: "18.0649", Limit: "1"})
	require.ErrorIs(t, err, domain.ErrInvalidCoordinates)
	_, err = request.Parse(request.Params{Lat: "59.33258", Lng: "18.0649", Limit: "abc"})
	require.ErrorIs(t, err, domain.ErrInvalidLimit)
}

func TestSearch_Observers(t *testing.T) {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_duration"}, []string{"status"})
	nearby := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_nearby"})

	svc := New(query.New(fixture().Build()), nil, DefaultConfig(), nil, nil).
		WithObservers(Observers{Duration: duration, Nearby: nearby})

	_, err := svc.Search(context.Background(), newRequest(t, 0, 0, nil, nil, 10))
	require.NoError(t, err)

	assert.Equal(t, 1, testutil.CollectAndCount(duration))
	assert.Equal(t, 1, testutil.CollectAndCount(nearby))

	b := fixture().MustAdd(record.Taggings, "g3", map[string]string{"shop_id": "ghost", "tag_id": "t1"})
	broken := New(query.New(b.Build()), nil, DefaultConfig(), nil, nil).
		WithObservers(Observers{Duration: duration})
	_, err = broken.Search(context.Background(), newRequest(t, 0, 0, nil, []string{"food"}, 1))
	require.Error(t, err)
	assert.Equal(t, 2, testutil.CollectAndCount(duration), "ok and error series")
}

func TestConfig_Defaults(t *testing.T) {
	svc := New(query.New(fixture().Build()), nil, Config{}, nil, nil)
	assert.InDelta(t, DefaultRadius, svc.Config().DefaultRadius, 0)
	assert.Equal(t, DefaultCandidateCap, svc.Config().CandidateCap)
}

// TestSearch_MatchesReference checks the pipeline against a direct
// computation: shops within radius nearest first, each contributing its
// products by descending popularity, cut at the limit.
func TestSearch_MatchesReference(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	b := record.NewBuilder()

	type shopPt struct {
		id       string
		lat, lng float64
	}
	shops := make([]shopPt, 40)
	for i := range shops {
		s := shopPt{id: fmt.Sprintf("s%d", i), lat: rng.Float64() * 0.1, lng: rng.Float64() * 0.1}
		shops[i] = s
		b.MustAdd(record.Shops, s.id, map[string]string{
			"name": s.id, "lat": fmt.Sprint(s.lat), "lng": fmt.Sprint(s.lng),
		})
	}

	type product struct {
		id   string
		pop  float64
		load int
	}
	byShop := map[string][]product{}
	for i := range 300 {
		shopID := shops[rng.IntN(len(shops))].id
		p := product{id: fmt.Sprintf("p%d", i), pop: float64(rng.IntN(20)) / 10, load: i}
		byShop[shopID] = append(byShop[shopID], p)
		b.MustAdd(record.Products, p.id, map[string]string{
			"shop_id": shopID, "title": p.id, "popularity": fmt.Sprint(p.pop), "quantity": "1",
		})
	}
	b.Collection(record.Tags).Collection(record.Taggings)

	svc := New(query.New(b.Build()), nil, DefaultConfig(), nil, nil)

	for q := range 20 {
		lat, lng := rng.Float64()*0.1, rng.Float64()*0.1
		r := 0.01 + rng.Float64()*0.04
		limit := 1 + rng.IntN(40)

		near := make([]shopPt, 0, len(shops))
		for _, s := range shops {
			if math.Hypot(s.lat-lat, s.lng-lng) < r {
				near = append(near, s)
			}
		}
		sort.SliceStable(near, func(i, j int) bool {
			return math.Hypot(near[i].lat-lat, near[i].lng-lng) < math.Hypot(near[j].lat-lat, near[j].lng-lng)
		})

		want := []string{}
		for _, s := range near {
			ps := append([]product(nil), byShop[s.id]...)
			sort.SliceStable(ps, func(i, j int) bool { return ps[i].pop > ps[j].pop })
			for _, p := range ps {
				want = append(want, p.id)
			}
		}
		if len(want) > limit {
			want = want[:limit]
		}

		views, err := svc.Search(context.Background(), newRequest(t, lat, lng, radius(r), nil, limit))
		require.NoError(t, err)
		require.Equal(t, want, viewIDs(views), "query %d", q)
	}
}

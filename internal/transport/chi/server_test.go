package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/shopgeo/internal/db/memory"
	"github.com/kailas-cloud/shopgeo/internal/domain"
	"github.com/kailas-cloud/shopgeo/internal/domain/record"
	"github.com/kailas-cloud/shopgeo/internal/query"
	healthuc "github.com/kailas-cloud/shopgeo/internal/usecase/health"
	searchuc "github.com/kailas-cloud/shopgeo/internal/usecase/search"
)

func fixtureStore() *record.Store {
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
		MustAdd(record.Taggings, "g1", map[string]string{"shop_id": "s1", "tag_id": "t1"}).
		MustAdd(record.Taggings, "g2", map[string]string{"shop_id": "s2", "tag_id": "t2"}).
		Build()
}

func newTestRouter(t *testing.T, cfg RouterConfig) http.Handler {
	t.Helper()
	ds := fixtureStore()
	cache, err := memory.NewStore(64)
	require.NoError(t, err)

	search := searchuc.New(query.New(ds), cache, searchuc.DefaultConfig(), nil, nil)
	health := healthuc.New(ds, cache)
	return NewRouter(NewServer(search, health, nil), cfg, nil)
}

func doGet(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func productIDs(t *testing.T, rr *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp SearchResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	ids := make([]string, len(resp.Products))
	for i, p := range resp.Products {
		ids[i], _ = p["id"].(string)
	}
	return ids
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func TestSearch_NearestShopsByPopularity(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rr := doGet(t, h, "/search?lat=0&lng=0&count=10")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, []string{"p2", "p1", "p3"}, productIDs(t, rr))
}

func TestSearch_ProductViewShape(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rr := doGet(t, h, "/search?lat=0&lng=0&count=1")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp SearchResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Products, 1)
	p := resp.Products[0]
	assert.Equal(t, "Bread", p["title"])
	assert.InDelta(t, 0.9, p["popularity"], 1e-9)
	shop, ok := p["shop"].(map[string]any)
	require.True(t, ok, "shop is nested")
	assert.Equal(t, "s1", shop["id"])
}

func TestSearch_CountLimitsResults(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rr := doGet(t, h, "/search?lat=0&lng=0&count=2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"p2", "p1"}, productIDs(t, rr))
}

func TestSearch_RadiusInMeters(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	// 5 m -> 0.0031 index units: only the shop at the query point qualifies.
	rr := doGet(t, h, "/search?lat=0&lng=0&radius=5&count=10")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"p2", "p1"}, productIDs(t, rr))

	// 3000 m -> 1.86 index units reaches the far shop too.
	rr = doGet(t, h, "/search?lat=0&lng=0&radius=3000&count=10")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"p2", "p1", "p3", "p4"}, productIDs(t, rr))
}

func TestSearch_Tags(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	tests := []struct {
		name   string
		target string
		want   []string
	}{
		{"bracketed", "/search?lat=0&lng=0&count=10&tags[]=sports", []string{"p3"}},
		{"repeated", "/search?lat=0&lng=0&count=10&tags=food&tags=sports", []string{"p2", "p1", "p3"}},
		{"empty values ignored", "/search?lat=0&lng=0&count=10&tags[]=&tags[]=food", []string{"p2", "p1"}},
		{"unmatched tag falls back to all shops", "/search?lat=0&lng=0&count=10&tags[]=books", []string{"p2", "p1", "p3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doGet(t, h, tt.target)
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.want, productIDs(t, rr))
		})
	}
}

func TestSearch_EmptyResultIsArray(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rr := doGet(t, h, "/search?lat=50&lng=50&count=10")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"products":[]}`, rr.Body.String())
}

func TestSearch_ValidationErrors(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	tests := []struct {
		name   string
		target string
		status int
		code   ErrorCode
	}{
		{"missing lat", "/search?lng=0&count=1", http.StatusBadRequest, ErrorCodeInvalidCoordinates},
		{"bad lng", "/search?lat=0&lng=east&count=1", http.StatusBadRequest, ErrorCodeInvalidCoordinates},
		{"bad radius", "/search?lat=0&lng=0&radius=wide&count=1", http.StatusBadRequest, ErrorCodeInvalidCoordinates},
		{"missing count", "/search?lat=0&lng=0", http.StatusNotFound, ErrorCodeInvalidCount},
		{"bad count", "/search?lat=0&lng=0&count=ten", http.StatusNotFound, ErrorCodeInvalidCount},
		{"zero count", "/search?lat=0&lng=0&count=0", http.StatusNotFound, ErrorCodeInvalidCount},
		{"coordinates checked first", "/search?lat=x&lng=0&count=x", http.StatusBadRequest, ErrorCodeInvalidCoordinates},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doGet(t, h, tt.target)
			require.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, decodeError(t, rr).Code)
		})
	}
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rr := doGet(t, h, "/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"dataset": "ok", "cache": "ok"}, resp.Checks)
}

func TestHealth_EmptyDatasetUnavailable(t *testing.T) {
	ds := record.NewBuilder().Collection(record.Shops).Build()
	search := searchuc.New(query.New(ds), nil, searchuc.DefaultConfig(), nil, nil)
	h := NewRouter(NewServer(search, healthuc.New(ds, nil), nil), RouterConfig{}, nil)

	rr := doGet(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCORS(t *testing.T) {
	h := newTestRouter(t, RouterConfig{CORSOrigin: "https://shops.example"})

	req := httptest.NewRequest(http.MethodOptions, "/search", http.NoBody)
	req.Header.Set("Access-Control-Request-Headers", "X-Requested-With")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://shops.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Requested-With", rr.Header().Get("Access-Control-Allow-Headers"))

	rr = doGet(t, h, "/search?lat=0&lng=0&count=1")
	assert.Equal(t, "https://shops.example", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(t, RouterConfig{RateRPS: 0.001, RateBurst: 1})

	assert.Equal(t, http.StatusOK, doGet(t, h, "/search?lat=0&lng=0&count=1").Code)

	rr := doGet(t, h, "/search?lat=0&lng=0&count=1")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, ErrorCodeRateLimited, decodeError(t, rr).Code)

	assert.Equal(t, http.StatusOK, doGet(t, h, "/health").Code, "health is exempt")
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rr := doGet(t, h, "/health")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestUnknownRoute(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rr := doGet(t, h, "/products")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, ErrorCodeBadRequest, decodeError(t, rr).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rr := doGet(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleDomainError(t *testing.T) {
	s := NewServer(nil, nil, nil)

	tests := []struct {
		name   string
		err    error
		status int
		code   ErrorCode
	}{
		{"dangling reference", fmt.Errorf("load product: %w", domain.NewNotFound("shops", "s9")),
			http.StatusInternalServerError, ErrorCodeDataIntegrity},
		{"unknown field", domain.NewFieldError("shops", "color", domain.ErrFieldDoesNotExist),
			http.StatusBadRequest, ErrorCodeBadRequest},
		{"lookup not allowed", domain.NewFieldError("shops", "name__gt", domain.ErrLookupNotAllowed),
			http.StatusBadRequest, ErrorCodeBadRequest},
		{"invalid sort key", domain.NewFieldError("products", "rank", domain.ErrInvalidSortKey),
			http.StatusBadRequest, ErrorCodeBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrorCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.handleDomainError(rr, tt.err)
			require.Equal(t, tt.status, rr.Code)
			resp := decodeError(t, rr)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotContains(t, resp.Message, "boom")
		})
	}
}

func TestJSONRecoverer(t *testing.T) {
	h := jsonRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, ErrorCodeInternalError, decodeError(t, rr).Code)
}

package search

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/shopgeo/internal/cache"
	"github.com/kailas-cloud/shopgeo/internal/db"
	"github.com/kailas-cloud/shopgeo/internal/domain/entity"
	"github.com/kailas-cloud/shopgeo/internal/domain/record"
	"github.com/kailas-cloud/shopgeo/internal/domain/search/request"
	logpkg "github.com/kailas-cloud/shopgeo/internal/logger"
	"github.com/kailas-cloud/shopgeo/internal/query"
	"github.com/kailas-cloud/shopgeo/internal/spatial"
)

// Fields the pipeline reads.
const (
	fieldTag        = "tag"
	fieldTagID      = "tag_id"
	fieldShopID     = "shop_id"
	fieldPopularity = "popularity"
)

// Service runs the proximity search: tags -> shops -> nearby shops ->
// products by popularity -> limit. It holds no per-request state; only the
// memo backend is shared between requests.
type Service struct {
	db      *query.DB
	cfg     Config
	obs     Observers
	dataset string

	responses      *cache.Memo[[]View]
	shopsByTags    *cache.Memo[[]string]
	nearbyShops    *cache.Memo[[]string]
	productsByShop *cache.Memo[[]string]
}

// New creates a search service over db. store backs the memos and may be nil
// to disable caching. cacheTotal may be nil.
//
// Memo keys carry a version of the loaded dataset, so a shared backend never
// serves values computed from a different dataset.
func New(
	qdb *query.DB,
	store db.KVStore,
	cfg Config,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *Service {
	s := &Service{
		db:             qdb,
		cfg:            cfg.withDefaults(),
		dataset:        datasetVersion(qdb.Store()),
		responses:      cache.New[[]View]("search", store, cacheTotal, logger),
		shopsByTags:    cache.New[[]string]("tag_shops", store, cacheTotal, logger),
		nearbyShops:    cache.New[[]string]("nearby_shops", store, cacheTotal, logger),
		productsByShop: cache.New[[]string]("shop_products", store, cacheTotal, logger),
	}
	return s.WithKeyPrefix("")
}

func datasetVersion(ds *record.Store) string {
	return ds.Fingerprint()[:datasetVersionLen]
}

const datasetVersionLen = 16

// WithKeyPrefix namespaces every memo key. The dataset version always
// follows prefix.
func (s *Service) WithKeyPrefix(prefix string) *Service {
	full := prefix + s.dataset + ":"
	s.responses.WithKeyPrefix(full)
	s.shopsByTags.WithKeyPrefix(full)
	s.nearbyShops.WithKeyPrefix(full)
	s.productsByShop.WithKeyPrefix(full)
	return s
}

// DatasetVersion returns the dataset tag carried by every memo key.
func (s *Service) DatasetVersion() string { return s.dataset }

// WithObservers attaches metrics observers.
func (s *Service) WithObservers(obs Observers) *Service {
	s.obs = obs
	return s
}

// Config returns the effective tuning.
func (s *Service) Config() Config { return s.cfg }

// Search returns at most req.Limit() product views: the popularity-sorted
// products of each nearby shop, nearest shop first.
func (s *Service) Search(ctx context.Context, req *request.Request) ([]View, error) {
	start := time.Now()
	key := cache.Fingerprint(req.Canonical())

	views, err := s.responses.GetOrCompute(ctx, key, s.cfg.ResponseTTL,
		func(ctx context.Context) ([]View, error) {
			return s.execute(ctx, req)
		})

	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.obs.Duration != nil {
		s.obs.Duration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return views, nil
}

func (s *Service) execute(ctx context.Context, req *request.Request) ([]View, error) {
	log := logpkg.FromContext(ctx)

	radius, ok := req.Radius()
	if !ok {
		radius = s.cfg.DefaultRadius
	}

	shopIDs, err := s.nearby(ctx, req.Tags(), req.Lat(), req.Lng(), radius)
	if err != nil {
		return nil, err
	}
	if s.obs.Nearby != nil {
		s.obs.Nearby.Observe(float64(len(shopIDs)))
	}

	products := s.db.Objects(record.Products)
	limit := req.Limit()
	ranked := make([]string, 0, limit)
	for _, shopID := range shopIDs {
		ids, err := s.shopProducts(ctx, shopID)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, ids...)
		if len(ranked) >= limit {
			break
		}
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	views := make([]View, len(ranked))
	for i, id := range ranked {
		p, err := products.Get(id)
		if err != nil {
			return nil, fmt.Errorf("load product: %w", err)
		}
		views[i] = p.ToMap()
	}

	log.Debug("search executed",
		zap.Float64("lat", req.Lat()),
		zap.Float64("lng", req.Lng()),
		zap.Float64("radius", radius),
		zap.Strings("tags", req.Tags()),
		zap.Int("nearby_shops", len(shopIDs)),
		zap.Int("products", len(views)),
	)
	return views, nil
}

// nearby returns the ids of shops near (lat, lng) among the tag-resolved
// shop set, nearest first.
func (s *Service) nearby(ctx context.Context, tags []string, lat, lng, radius float64) ([]string, error) {
	key := cache.Fingerprint(
		tagsFingerprint(tags),
		formatFloat(lat), formatFloat(lng), formatFloat(radius),
		strconv.Itoa(s.cfg.CandidateCap),
	)
	return s.nearbyShops.GetOrCompute(ctx, key, s.cfg.SubresultTTL,
		func(ctx context.Context) ([]string, error) {
			shops, err := s.resolveShops(ctx, tags)
			if err != nil {
				return nil, fmt.Errorf("resolve shops: %w", err)
			}
			ix := spatial.New()
			if err := ix.Build(shops); err != nil {
				return nil, fmt.Errorf("build spatial index: %w", err)
			}
			ix.Query(lat, lng, radius, s.cfg.CandidateCap)
			return query.IDs(ix.NearbyShops()), nil
		})
}

// resolveShops returns the shops tagged with any of tags.
//
// Quirk kept for compatibility: when no shop carries any of the tags (or no
// tags are given) the full shop collection is returned, so an unmatched tag
// filter does not narrow the result.
func (s *Service) resolveShops(ctx context.Context, tags []string) ([]*entity.Entity, error) {
	shops := s.db.Objects(record.Shops)
	if len(tags) == 0 {
		return shops.All(nil)
	}

	ids, err := s.shopsByTags.GetOrCompute(ctx, tagsFingerprint(tags), s.cfg.SubresultTTL,
		func(context.Context) ([]string, error) {
			return s.taggedShopIDs(tags)
		})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return shops.All(nil)
	}
	return shops.Filter(query.Filters{record.PrimaryKey + "__in": ids}, nil)
}

// taggedShopIDs returns the distinct shop ids referenced by taggings of the
// named tags, in tagging order.
func (s *Service) taggedShopIDs(tags []string) ([]string, error) {
	tagEnts, err := s.db.Objects(record.Tags).Filter(query.Filters{fieldTag + "__in": tags}, nil)
	if err != nil {
		return nil, fmt.Errorf("filter tags: %w", err)
	}
	if len(tagEnts) == 0 {
		return []string{}, nil
	}

	taggings, err := s.db.Objects(record.Taggings).Filter(
		query.Filters{fieldTagID + "__in": query.IDs(tagEnts)}, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("filter taggings: %w", err)
	}

	seen := make(map[string]struct{}, len(taggings))
	ids := make([]string, 0, len(taggings))
	for _, t := range taggings {
		id, err := t.Get(fieldShopID)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// shopProducts returns the shop's product ids by popularity, highest first.
// Ties keep load order.
func (s *Service) shopProducts(ctx context.Context, shopID string) ([]string, error) {
	return s.productsByShop.GetOrCompute(ctx, shopID, s.cfg.SubresultTTL,
		func(context.Context) ([]string, error) {
			list, err := s.db.Objects(record.Products).Filter(
				query.Filters{fieldShopID: shopID}, query.Desc(fieldPopularity),
			)
			if err != nil {
				return nil, fmt.Errorf("filter products of shop %s: %w", shopID, err)
			}
			return query.IDs(list), nil
		})
}

func tagsFingerprint(tags []string) string {
	return cache.Fingerprint(tags...)
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

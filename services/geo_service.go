package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"

	"poi-server/geo"
	"poi-server/metrics"
	"poi-server/models"
	"poi-server/store"
)

const (
	DefaultLimit = 500
	MaxLimit     = 2000
)

// FeatureCache holds query results keyed by a string that embeds the dataset version and the
// time that version was last loaded.
type FeatureCache interface {
	Get(ctx context.Context, key string) ([]models.Feature, bool)
	Set(ctx context.Context, key string, features []models.Feature)
}

type QueryResult struct {
	ActiveVersion string
	Features      []models.Feature
}

type GeoService struct {
	store store.Store
	cache FeatureCache
}

// NewGeoService creates the query engine. cache may be nil.
func NewGeoService(st store.Store, cache FeatureCache) *GeoService {
	return &GeoService{store: st, cache: cache}
}

// ClampLimit returns DefaultLimit for nil and otherwise clamps into [1, MaxLimit].
func ClampLimit(limit *int) int {
	if limit == nil {
		return DefaultLimit
	}
	return min(max(*limit, 1), MaxLimit)
}

// QueryByBoundingBox answers "west,south,east,north" queries. A blank bbox yields an empty result
// without touching storage.
func (s *GeoService) QueryByBoundingBox(ctx context.Context, bbox string, category string, limit *int) (QueryResult, error) {
	if strings.TrimSpace(bbox) == "" {
		return QueryResult{Features: []models.Feature{}}, nil
	}
	bound, err := geo.ParseBBox(bbox)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(string(store.ModeBBox), "invalid").Inc()
		return QueryResult{}, err
	}

	q := store.FeatureQuery{Bound: &bound, Category: normalizeCategory(category), Limit: ClampLimit(limit)}
	key := []string{
		strconv.FormatFloat(bound.Min[0], 'g', -1, 64),
		strconv.FormatFloat(bound.Min[1], 'g', -1, 64),
		strconv.FormatFloat(bound.Max[0], 'g', -1, 64),
		strconv.FormatFloat(bound.Max[1], 'g', -1, 64),
	}
	return s.query(ctx, q, key)
}

// QueryByPolygon answers GeoJSON Polygon/MultiPolygon containment queries.
func (s *GeoService) QueryByPolygon(ctx context.Context, body []byte, category string, limit *int) (QueryResult, error) {
	region, err := geo.ParseRegion(body)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(string(store.ModePolygon), "invalid").Inc()
		return QueryResult{}, err
	}

	q := store.FeatureQuery{Region: &region, Category: normalizeCategory(category), Limit: ClampLimit(limit)}
	return s.query(ctx, q, []string{region.WKT()})
}

func (s *GeoService) query(ctx context.Context, q store.FeatureQuery, keyParts []string) (QueryResult, error) {
	mode := string(q.Mode())
	start := time.Now()
	defer func() {
		metrics.QueryDurationMs.WithLabelValues(mode).Observe(float64(time.Since(start).Milliseconds()))
	}()

	active, err := s.activeVersion(ctx)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(mode, "error").Inc()
		return QueryResult{}, err
	}
	result := QueryResult{ActiveVersion: active, Features: []models.Feature{}}
	if active == "" {
		metrics.QueriesTotal.WithLabelValues(mode, "no_version").Inc()
		return result, nil
	}
	q.Version = active

	var key string
	if s.cache != nil {
		key = s.cacheKey(ctx, active, mode, q.Category, q.Limit, keyParts)
	}
	if key != "" {
		if features, ok := s.cache.Get(ctx, key); ok {
			metrics.CacheHitsTotal.Inc()
			metrics.QueriesTotal.WithLabelValues(mode, "cached").Inc()
			result.Features = features
			return result, nil
		}
		metrics.CacheMissesTotal.Inc()
	}

	features, err := s.store.QueryFeatures(ctx, q)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(mode, "error").Inc()
		return QueryResult{}, errors.Wrapf(err, "%s query on version %s", mode, active)
	}
	if features != nil {
		result.Features = features
	}
	sigolo.Debugf("%s query on version %s returned %d features", mode, active, len(result.Features))

	if key != "" {
		s.cache.Set(ctx, key, result.Features)
	}
	metrics.QueriesTotal.WithLabelValues(mode, "ok").Inc()
	return result, nil
}

// activeVersion prefers the version pinned on the context for this request.
func (s *GeoService) activeVersion(ctx context.Context) (string, error) {
	if version, ok := ActiveVersionFromContext(ctx); ok {
		return version, nil
	}
	version, err := s.store.ActiveVersion(ctx)
	if err != nil {
		return "", errors.Wrap(err, "read active version")
	}
	return version, nil
}

// normalizeCategory drops blank filters. Anything else is matched exactly as given.
func normalizeCategory(category string) string {
	if strings.TrimSpace(category) == "" {
		return ""
	}
	return category
}

// cacheKey returns "" when the version's load time cannot be read; the query then bypasses the
// cache. An inactive version can be loaded again, so the version name alone is not enough.
func (s *GeoService) cacheKey(ctx context.Context, version, mode, category string, limit int, parts []string) string {
	v, err := s.store.GetVersion(ctx, version)
	if err != nil {
		sigolo.Warnf("Bypassing feature cache, version %s unreadable: %v", version, err)
		return ""
	}
	generation := "0"
	if v.PulledAt != nil {
		generation = strconv.FormatInt(v.PulledAt.UnixNano(), 36)
	}
	return formatCacheKey(version, generation, mode, category, limit, parts)
}

func formatCacheKey(version, generation, mode, category string, limit int, parts []string) string {
	h := sha256.New()
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(limit)))
	for _, part := range parts {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return "features:" + version + ":" + generation + ":" + mode + ":" + hex.EncodeToString(h.Sum(nil))
}

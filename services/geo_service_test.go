package services

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poi-server/geo"
	"poi-server/models"
	"poi-server/store"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, st store.Store, version string, activate bool, pois ...models.PointOfInterest) {
	ctx := context.Background()
	tx, err := st.BeginIngest(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	for _, p := range pois {
		p.DataVersion = version
		require.NoError(t, tx.InsertPOI(ctx, p))
	}
	require.NoError(t, tx.UpsertVersion(ctx, models.DatasetVersion{Version: version, Source: "seed-csv"}))
	if activate {
		require.NoError(t, tx.SetActiveVersion(ctx, version))
	}
	require.NoError(t, tx.Commit())
}

func at(name, category string, lon, lat float64, age time.Duration) models.PointOfInterest {
	return models.PointOfInterest{Name: name, Category: category, Location: models.NewGeoPoint(lon, lat), UpdatedAt: now.Add(-age)}
}

func intPtr(i int) *int { return &i }

type countingStore struct {
	store.Store
	queries int
}

func (s *countingStore) QueryFeatures(ctx context.Context, q store.FeatureQuery) ([]models.Feature, error) {
	s.queries++
	return s.Store.QueryFeatures(ctx, q)
}

type failingStore struct {
	store.Store
}

func (failingStore) QueryFeatures(context.Context, store.FeatureQuery) ([]models.Feature, error) {
	return nil, errors.New("connection reset")
}

type unreadableVersionStore struct {
	store.Store
}

func (unreadableVersionStore) GetVersion(context.Context, string) (*models.DatasetVersion, error) {
	return nil, errors.New("connection reset")
}

type mapCache map[string][]models.Feature

func (c mapCache) Get(_ context.Context, key string) ([]models.Feature, bool) {
	f, ok := c[key]
	return f, ok
}

func (c mapCache) Set(_ context.Context, key string, features []models.Feature) {
	c[key] = features
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 500, ClampLimit(nil))
	assert.Equal(t, 1, ClampLimit(intPtr(0)))
	assert.Equal(t, 1, ClampLimit(intPtr(-5)))
	assert.Equal(t, 42, ClampLimit(intPtr(42)))
	assert.Equal(t, 2000, ClampLimit(intPtr(5000)))
}

func TestQueryByBoundingBox(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, "v1", true,
		at("A", "cafe", -122.41, 37.77, 2*time.Hour),
		at("B", "cafe", -122.40, 37.78, time.Hour),
		at("C", "park", -122.42, 37.76, 0),
		at("far", "cafe", 0, 0, 0),
	)
	s := NewGeoService(st, nil)

	result, err := s.QueryByBoundingBox(context.Background(), "-122.5,37.7,-122.3,37.8", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", result.ActiveVersion)
	require.Len(t, result.Features, 3)
	assert.Equal(t, []string{"C", "B", "A"}, names(result.Features))

	result, err = s.QueryByBoundingBox(context.Background(), "-122.5,37.7,-122.3,37.8", "cafe", intPtr(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, names(result.Features))
}

func TestQueryByBoundingBox_categoryIsExact(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, "v1", true, at("A", "cafe", 1, 1, 0))
	s := NewGeoService(st, nil)

	for _, category := range []string{"Cafe", " cafe", "caf"} {
		result, err := s.QueryByBoundingBox(context.Background(), "0,0,2,2", category, nil)
		require.NoError(t, err)
		assert.Empty(t, result.Features, category)
	}
	result, err := s.QueryByBoundingBox(context.Background(), "0,0,2,2", "   ", nil)
	require.NoError(t, err)
	assert.Len(t, result.Features, 1)
}

func TestQueryByBoundingBox_blankSkipsStorage(t *testing.T) {
	st := &countingStore{Store: store.NewMemory()}
	s := NewGeoService(st, nil)

	result, err := s.QueryByBoundingBox(context.Background(), "  ", "", nil)
	require.NoError(t, err)
	assert.NotNil(t, result.Features)
	assert.Empty(t, result.Features)
	assert.Zero(t, st.queries)
}

func TestQueryByBoundingBox_invalid(t *testing.T) {
	s := NewGeoService(store.NewMemory(), nil)
	_, err := s.QueryByBoundingBox(context.Background(), "1,2,3", "", nil)
	assert.True(t, errors.Is(err, geo.ErrInvalidRegion))
}

func TestQueryByBoundingBox_noActiveVersion(t *testing.T) {
	st := &countingStore{Store: store.NewMemory()}
	s := NewGeoService(st, nil)

	result, err := s.QueryByBoundingBox(context.Background(), "0,0,1,1", "", nil)
	require.NoError(t, err)
	assert.Empty(t, result.ActiveVersion)
	assert.Empty(t, result.Features)
	assert.Zero(t, st.queries)
}

func TestQuery_usesVersionPinnedOnContext(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, "v1", true, at("old", "cafe", 1, 1, 0))
	seed(t, st, "v2", true, at("new", "cafe", 1, 1, 0))
	s := NewGeoService(st, nil)

	ctx := WithActiveVersion(context.Background(), "v1")
	result, err := s.QueryByBoundingBox(ctx, "0,0,2,2", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", result.ActiveVersion)
	assert.Equal(t, []string{"old"}, names(result.Features))
}

func TestQueryByPolygon(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, "v1", true,
		at("in", "cafe", 1, 1, 0),
		at("out", "cafe", 3, 3, 0),
	)
	s := NewGeoService(st, nil)

	result, err := s.QueryByPolygon(context.Background(), []byte(`{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2]]]}`), "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"in"}, names(result.Features))
}

func TestQueryByPolygon_invalid(t *testing.T) {
	s := NewGeoService(store.NewMemory(), nil)
	for _, body := range []string{"", "null", `{"type":"Point","coordinates":[0,0]}`} {
		_, err := s.QueryByPolygon(context.Background(), []byte(body), "", nil)
		assert.True(t, errors.Is(err, geo.ErrInvalidRegion), body)
	}
}

func TestQuery_repeatable(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, "v1", true,
		at("A", "cafe", 1, 1, time.Hour),
		at("B", "cafe", 1, 1, time.Hour),
		at("C", "cafe", 1, 1, 0),
	)
	s := NewGeoService(st, nil)

	first, err := s.QueryByBoundingBox(context.Background(), "0,0,2,2", "", nil)
	require.NoError(t, err)
	second, err := s.QueryByBoundingBox(context.Background(), "0,0,2,2", "", nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestQuery_cache(t *testing.T) {
	st := &countingStore{Store: store.NewMemory()}
	seed(t, st, "v1", true, at("A", "cafe", 1, 1, 0))
	c := mapCache{}
	s := NewGeoService(st, c)

	for i := 0; i < 3; i++ {
		result, err := s.QueryByBoundingBox(context.Background(), "0,0,2,2", "", nil)
		require.NoError(t, err)
		assert.Len(t, result.Features, 1)
	}
	assert.Equal(t, 1, st.queries)
	assert.Len(t, c, 1)

	seed(t, st, "v2", true)
	result, err := s.QueryByBoundingBox(context.Background(), "0,0,2,2", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", result.ActiveVersion)
	assert.Empty(t, result.Features, "a new version never reads the old version's cache entry")
	assert.Equal(t, 2, st.queries)
}

func TestQuery_cacheFollowsReloadedVersion(t *testing.T) {
	st := store.NewMemory()
	s := NewGeoService(st, mapCache{})
	ctx := context.Background()

	reload := func(version, name string, pulledAt time.Time) {
		tx, err := st.BeginIngest(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		_, err = tx.DeleteVersionPOIs(ctx, version)
		require.NoError(t, err)
		p := at(name, "cafe", 1, 1, 0)
		p.DataVersion = version
		require.NoError(t, tx.InsertPOI(ctx, p))
		require.NoError(t, tx.UpsertVersion(ctx, models.DatasetVersion{Version: version, Source: "seed-csv", PulledAt: &pulledAt}))
		require.NoError(t, tx.SetActiveVersion(ctx, version))
		require.NoError(t, tx.Commit())
	}
	names := func() []string {
		result, err := s.QueryByBoundingBox(ctx, "0,0,2,2", "", nil)
		require.NoError(t, err)
		assert.Equal(t, "v2", result.ActiveVersion)
		var out []string
		for _, f := range result.Features {
			out = append(out, f.Name)
		}
		return out
	}

	reload("v2", "Old", now)
	assert.Equal(t, []string{"Old"}, names())

	reload("v1", "Other", now.Add(time.Minute))
	reload("v2", "New", now.Add(2*time.Minute))
	assert.Equal(t, []string{"New"}, names())
}

func TestQuery_cacheBypassedWhenVersionUnreadable(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, "v1", true, at("A", "cafe", 1, 1, 0))
	c := mapCache{}
	s := NewGeoService(unreadableVersionStore{Store: mem}, c)

	result, err := s.QueryByBoundingBox(context.Background(), "0,0,2,2", "", nil)
	require.NoError(t, err)
	assert.Len(t, result.Features, 1)
	assert.Empty(t, c)
}

func TestQuery_storageFailure(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, "v1", true, at("A", "cafe", 1, 1, 0))
	s := NewGeoService(failingStore{Store: mem}, nil)

	_, err := s.QueryByBoundingBox(context.Background(), "0,0,2,2", "", nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, geo.ErrInvalidRegion))
}

func TestQuery_cancelled(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, "v1", true, at("A", "cafe", 1, 1, 0))
	s := NewGeoService(st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.QueryByBoundingBox(ctx, "0,0,2,2", "", nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func names(features []models.Feature) []string {
	out := make([]string, 0, len(features))
	for _, f := range features {
		out = append(out, f.Name)
	}
	return out
}

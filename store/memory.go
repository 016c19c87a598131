package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"poi-server/models"
)

const (
	rtreeDimensions  = 2
	rtreeMinChildren = 25
	rtreeMaxChildren = 50
	rtreeTolerance   = 1e-9
)

type indexedPOI struct {
	poi  models.PointOfInterest
	rect *rtreego.Rect
}

func (i *indexedPOI) Bounds() *rtreego.Rect {
	return i.rect
}

type versionIndex struct {
	tree *rtreego.Rtree
}

func newVersionIndex(pois []models.PointOfInterest) *versionIndex {
	idx := &versionIndex{tree: rtreego.NewTree(rtreeDimensions, rtreeMinChildren, rtreeMaxChildren)}
	for _, poi := range pois {
		p := rtreego.Point{poi.Location.Lon(), poi.Location.Lat()}
		idx.tree.Insert(&indexedPOI{poi: poi, rect: p.ToRect(rtreeTolerance)})
	}
	return idx
}

// Memory keeps every dataset version in process, each behind its own R-tree. It backs tests and
// single-node deployments without a database.
type Memory struct {
	mu       sync.RWMutex
	active   string
	versions map[string]models.DatasetVersion
	pois     map[string][]models.PointOfInterest
	indexes  map[string]*versionIndex

	ingestLock chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		versions:   map[string]models.DatasetVersion{},
		pois:       map[string][]models.PointOfInterest{},
		indexes:    map[string]*versionIndex{},
		ingestLock: make(chan struct{}, 1),
	}
}

func (m *Memory) EnsureSchema(context.Context) error {
	return nil
}

func (m *Memory) ActiveVersion(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, nil
}

func (m *Memory) GetVersion(ctx context.Context, version string) (*models.DatasetVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[version]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "dataset version %q", version)
	}
	return &v, nil
}

func (m *Memory) QueryFeatures(ctx context.Context, q FeatureQuery) ([]models.Feature, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		bound orb.Bound
		match func(orb.Point) bool
	)
	switch q.Mode() {
	case ModeBBox:
		bound = *q.Bound
		match = bound.Contains
	case ModePolygon:
		bound = q.Region.Bound()
		match = q.Region.Within
	}

	rect, err := rtreego.NewRect(
		rtreego.Point{bound.Min[0] - rtreeTolerance, bound.Min[1] - rtreeTolerance},
		[]float64{bound.Max[0] - bound.Min[0] + 2*rtreeTolerance, bound.Max[1] - bound.Min[1] + 2*rtreeTolerance},
	)
	if err != nil {
		return nil, errors.Wrap(err, "search rectangle")
	}

	m.mu.RLock()
	idx := m.indexes[q.Version]
	var hits []rtreego.Spatial
	if idx != nil {
		hits = idx.tree.SearchIntersect(rect)
	}
	m.mu.RUnlock()

	matched := make([]models.PointOfInterest, 0, len(hits))
	for _, hit := range hits {
		poi := hit.(*indexedPOI).poi
		if q.Category != "" && poi.Category != q.Category {
			continue
		}
		if !match(orb.Point{poi.Location.Lon(), poi.Location.Lat()}) {
			continue
		}
		matched = append(matched, poi)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	features := make([]models.Feature, 0, len(matched))
	for _, poi := range matched {
		features = append(features, poi.Feature())
	}
	return features, nil
}

// BeginIngest waits until no other ingest transaction is open.
func (m *Memory) BeginIngest(ctx context.Context) (IngestTx, error) {
	select {
	case m.ingestLock <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "acquire ingest lock")
	}
	return &memoryIngestTx{
		store:    m,
		inserted: map[string][]models.PointOfInterest{},
		cleared:  map[string]bool{},
		versions: map[string]models.DatasetVersion{},
	}, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close() error {
	return nil
}

type memoryIngestTx struct {
	store    *Memory
	inserted map[string][]models.PointOfInterest
	cleared  map[string]bool
	versions map[string]models.DatasetVersion
	active   *string
	done     bool
}

func (t *memoryIngestTx) ActiveVersion(ctx context.Context) (string, error) {
	if t.active != nil {
		return *t.active, nil
	}
	return t.store.ActiveVersion(ctx)
}

func (t *memoryIngestTx) DeleteVersionPOIs(ctx context.Context, version string) (int64, error) {
	if err := t.usable(ctx); err != nil {
		return 0, err
	}
	t.store.mu.RLock()
	n := int64(len(t.store.pois[version]))
	t.store.mu.RUnlock()

	n += int64(len(t.inserted[version]))
	delete(t.inserted, version)
	t.cleared[version] = true
	return n, nil
}

func (t *memoryIngestTx) InsertPOI(ctx context.Context, poi models.PointOfInterest) error {
	if err := t.usable(ctx); err != nil {
		return err
	}
	if poi.ID == uuid.Nil {
		poi.ID = uuid.New()
	}
	poi.UpdatedAt = poi.UpdatedAt.UTC()
	t.inserted[poi.DataVersion] = append(t.inserted[poi.DataVersion], poi)
	return nil
}

func (t *memoryIngestTx) UpsertVersion(ctx context.Context, v models.DatasetVersion) error {
	if err := t.usable(ctx); err != nil {
		return err
	}
	if len(v.Transforms) == 0 {
		v.Transforms = []byte(transformsOrEmpty(nil))
	}
	t.versions[v.Version] = v
	return nil
}

func (t *memoryIngestTx) SetActiveVersion(ctx context.Context, version string) error {
	if err := t.usable(ctx); err != nil {
		return err
	}
	t.active = &version
	return nil
}

func (t *memoryIngestTx) Commit() error {
	if t.done {
		return errors.New("ingest transaction already finished")
	}
	m := t.store

	m.mu.Lock()
	for version := range t.inserted {
		_, pending := t.versions[version]
		_, known := m.versions[version]
		if !pending && !known {
			m.mu.Unlock()
			t.finish()
			return errors.Errorf("points reference unknown dataset version %q", version)
		}
	}
	for version := range t.cleared {
		delete(m.pois, version)
	}
	for _, v := range t.versions {
		m.versions[v.Version] = v
	}
	for version, pois := range t.inserted {
		m.pois[version] = append(m.pois[version], pois...)
	}
	touched := map[string]bool{}
	for version := range t.cleared {
		touched[version] = true
	}
	for version := range t.inserted {
		touched[version] = true
	}
	for version := range touched {
		m.indexes[version] = newVersionIndex(m.pois[version])
	}
	if t.active != nil {
		m.active = *t.active
	}
	m.mu.Unlock()

	t.finish()
	return nil
}

func (t *memoryIngestTx) Rollback() error {
	if !t.done {
		t.finish()
	}
	return nil
}

func (t *memoryIngestTx) finish() {
	t.done = true
	<-t.store.ingestLock
}

func (t *memoryIngestTx) usable(ctx context.Context) error {
	if t.done {
		return errors.New("ingest transaction already finished")
	}
	return ctx.Err()
}

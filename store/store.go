package store

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"poi-server/geo"
	"poi-server/models"
)

var ErrNotFound = errors.New("not found")

type QueryMode string

const (
	ModeBBox    QueryMode = "bbox"
	ModePolygon QueryMode = "polygon"
)

// FeatureQuery selects points of a single dataset version. Exactly one of Bound and Region is set.
type FeatureQuery struct {
	Version  string
	Bound    *orb.Bound
	Region   *geo.Region
	Category string
	Limit    int
}

func (q FeatureQuery) Mode() QueryMode {
	if q.Region != nil {
		return ModePolygon
	}
	return ModeBBox
}

func (q FeatureQuery) validate() error {
	if (q.Bound == nil) == (q.Region == nil) {
		return errors.New("feature query needs exactly one of bound and region")
	}
	if q.Limit < 1 {
		return errors.Errorf("feature query limit must be positive, got %d", q.Limit)
	}
	return nil
}

type Store interface {
	EnsureSchema(ctx context.Context) error
	ActiveVersion(ctx context.Context) (string, error)
	GetVersion(ctx context.Context, version string) (*models.DatasetVersion, error)
	QueryFeatures(ctx context.Context, q FeatureQuery) ([]models.Feature, error)
	// BeginIngest starts the single transaction a dataset load runs in. PostGIS and Memory
	// serialize loads: a second caller blocks (until ctx ends) while another load is open.
	// Mongo does not block; two overlapping loads conflict on the meta document and one of them
	// fails at write or commit time with nothing applied.
	BeginIngest(ctx context.Context) (IngestTx, error)
	Ping(ctx context.Context) error
	Close() error
}

// IngestTx buffers a dataset load. Nothing is visible to readers before Commit. Rollback after
// Commit is a no-op.
type IngestTx interface {
	ActiveVersion(ctx context.Context) (string, error)
	DeleteVersionPOIs(ctx context.Context, version string) (int64, error)
	InsertPOI(ctx context.Context, poi models.PointOfInterest) error
	UpsertVersion(ctx context.Context, v models.DatasetVersion) error
	SetActiveVersion(ctx context.Context, version string) error
	Commit() error
	Rollback() error
}

func transformsOrEmpty(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

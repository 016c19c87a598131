package services

import (
	"context"

	"github.com/pkg/errors"

	"poi-server/models"
	"poi-server/store"
)

type DatasetService struct {
	store store.Store
}

func NewDatasetService(st store.Store) *DatasetService {
	return &DatasetService{store: st}
}

// GetActiveVersion returns the committed active version, or "" before the first activation.
func (s *DatasetService) GetActiveVersion(ctx context.Context) (string, error) {
	version, err := s.store.ActiveVersion(ctx)
	if err != nil {
		return "", errors.Wrap(err, "read active version")
	}
	return version, nil
}

// GetVersion looks a version up by exact id. Unknown ids wrap store.ErrNotFound.
func (s *DatasetService) GetVersion(ctx context.Context, version string) (*models.DatasetVersion, error) {
	if version == "" || len(version) > models.DataVersionMaxLength {
		return nil, errors.Wrapf(store.ErrNotFound, "dataset version %q", version)
	}
	return s.store.GetVersion(ctx, version)
}

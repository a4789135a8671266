package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/extractq/pkg/core"
)

// SaveArtifact stores a job output.
func (s *GormStore) SaveArtifact(ctx context.Context, a *core.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

// GetArtifact retrieves an artifact by ID.
func (s *GormStore) GetArtifact(ctx context.Context, id string) (*core.Artifact, error) {
	var a core.Artifact
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

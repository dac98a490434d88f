package repository

import (
	"github.com/ducnh/coursereel/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ManifestRepository struct {
	db *gorm.DB
}

func NewManifestRepository(db *gorm.DB) *ManifestRepository {
	return &ManifestRepository{db: db}
}

// Create persists a manifest. Manifests are immutable after creation; there
// is deliberately no update method.
func (r *ManifestRepository) Create(manifest *entity.Manifest) error {
	return r.db.Create(manifest).Error
}

func (r *ManifestRepository) FindByID(id uuid.UUID) (*entity.Manifest, error) {
	var manifest entity.Manifest
	err := r.db.Where("id = ?", id).First(&manifest).Error
	if err != nil {
		return nil, err
	}
	return &manifest, nil
}

func (r *ManifestRepository) FindBySessionID(sessionID uuid.UUID) (*entity.Manifest, error) {
	var manifest entity.Manifest
	err := r.db.Where("session_id = ?", sessionID).First(&manifest).Error
	if err != nil {
		return nil, err
	}
	return &manifest, nil
}

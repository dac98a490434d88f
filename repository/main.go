package repository

import (
	"github.com/ducnh/coursereel/infra"
	"gorm.io/gorm"
)

type Repository struct {
	UploadSessionRepo *UploadSessionRepository
	ManifestRepo      *ManifestRepository
	CourseRepo        *CourseRepository
	QueueRepo         *QueueRepository
}

var repository *Repository

func InitRepository(infra *infra.Infra) *Repository {
	repository = newRepository(infra.Postgres.DB)
	return repository
}

func newRepository(db *gorm.DB) *Repository {
	return &Repository{
		UploadSessionRepo: NewUploadSessionRepository(db),
		ManifestRepo:      NewManifestRepository(db),
		CourseRepo:        NewCourseRepository(db),
		QueueRepo:         NewQueueRepository(db),
	}
}

func GetRepository() *Repository {
	if repository == nil {
		panic("repository not initialized")
	}
	return repository
}

func (r *Repository) WithTransaction(tx *gorm.DB) *Repository {
	return newRepository(tx)
}

package repository

import (
	"errors"
	"time"

	"github.com/ducnh/coursereel/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CourseRepository struct {
	db *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// CreateWithModules persists a course and its modules in one transaction
func (r *CourseRepository) CreateWithModules(course *entity.Course) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(course).Error
	})
}

// FindByBatchID looks up a course by its idempotency key. Returns (nil, nil)
// when no course exists for the batch.
func (r *CourseRepository) FindByBatchID(batchID uuid.UUID) (*entity.Course, error) {
	var course entity.Course
	err := r.db.Preload("Modules").Where("batch_id = ?", batchID).First(&course).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &course, nil
}

// FindWithModules loads a course and all its modules
func (r *CourseRepository) FindWithModules(id uuid.UUID) (*entity.Course, error) {
	var course entity.Course
	err := r.db.Preload("Modules").Where("id = ?", id).First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *CourseRepository) FindModule(id uuid.UUID) (*entity.CourseModule, error) {
	var module entity.CourseModule
	err := r.db.Where("id = ?", id).First(&module).Error
	if err != nil {
		return nil, err
	}
	return &module, nil
}

// UpdateModuleProcessing writes the visible processing projection. Only the
// pipeline step holding the queue lock calls this.
func (r *CourseRepository) UpdateModuleProcessing(id uuid.UUID, status entity.ModuleStatus, percent int, step string) error {
	now := time.Now()
	return r.db.Model(&entity.CourseModule{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            status,
			"progress_percent":  percent,
			"progress_step":     step,
			"last_heartbeat_at": &now,
			"updated_at":        now,
		}).Error
}

// TouchModuleHeartbeat refreshes only the heartbeat timestamp
func (r *CourseRepository) TouchModuleHeartbeat(id uuid.UUID) error {
	now := time.Now()
	return r.db.Model(&entity.CourseModule{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_heartbeat_at": &now,
		}).Error
}

// SetModuleFrames writes the extraction result
func (r *CourseRepository) SetModuleFrames(id uuid.UUID, frames []byte, frameCount int) error {
	return r.db.Model(&entity.CourseModule{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"frames":      frames,
			"frame_count": frameCount,
			"updated_at":  time.Now(),
		}).Error
}

// SetModuleTranscript writes the transcription result
func (r *CourseRepository) SetModuleTranscript(id uuid.UUID, transcriptPath string) error {
	return r.db.Model(&entity.CourseModule{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"transcript_path": transcriptPath,
			"updated_at":      time.Now(),
		}).Error
}

// MarkModuleFailed records a terminal failure with its reason
func (r *CourseRepository) MarkModuleFailed(id uuid.UUID, reason string) error {
	return r.db.Model(&entity.CourseModule{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        entity.ModuleStatusFailed,
			"error_message": reason,
			"updated_at":    time.Now(),
		}).Error
}

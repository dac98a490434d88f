package repository

import (
	"fmt"
	"time"

	"github.com/ducnh/coursereel/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UploadSessionRepository struct {
	db *gorm.DB
}

func NewUploadSessionRepository(db *gorm.DB) *UploadSessionRepository {
	return &UploadSessionRepository{db: db}
}

// Create creates a new upload session
func (r *UploadSessionRepository) Create(session *entity.UploadSession) error {
	return r.db.Create(session).Error
}

// FindByID finds an upload session by its ID
func (r *UploadSessionRepository) FindByID(id uuid.UUID) (*entity.UploadSession, error) {
	var session entity.UploadSession
	err := r.db.Where("id = ?", id).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateStatus updates the status of an upload session
func (r *UploadSessionRepository) UpdateStatus(id uuid.UUID, status entity.UploadStatus) error {
	return r.db.Model(&entity.UploadSession{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// MarkFailed records the failure reason with the terminal status
func (r *UploadSessionRepository) MarkFailed(id uuid.UUID, reason string) error {
	return r.db.Model(&entity.UploadSession{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        entity.UploadStatusFailed,
			"error_message": reason,
			"updated_at":    time.Now(),
		}).Error
}

// IncrementUploadedChunks increments the uploaded chunks count
func (r *UploadSessionRepository) IncrementUploadedChunks(id uuid.UUID) error {
	return r.db.Model(&entity.UploadSession{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"uploaded_chunks": gorm.Expr("uploaded_chunks + 1"),
			"status":          entity.UploadStatusUploading,
			"updated_at":      time.Now(),
		}).Error
}

// AdvanceOffset moves the confirmed offset of a resumable session forward.
// The guard on the current offset makes a concurrent or replayed frame a
// no-op instead of a silent overwrite.
func (r *UploadSessionRepository) AdvanceOffset(id uuid.UUID, from, to int64) error {
	result := r.db.Model(&entity.UploadSession{}).
		Where("id = ? AND \"offset\" = ?", id, from).
		Updates(map[string]interface{}{
			"offset":     to,
			"status":     entity.UploadStatusUploading,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("offset moved concurrently, session %s no longer at %d", id, from)
	}
	return nil
}

// ValidateActive loads a session and checks it can still accept bytes
func (r *UploadSessionRepository) ValidateActive(id uuid.UUID) (*entity.UploadSession, error) {
	session, err := r.FindByID(id)
	if err != nil {
		return nil, err
	}

	if !session.Active() {
		return nil, fmt.Errorf("upload session is not active, current status: %s", session.Status)
	}

	if time.Now().After(session.ExpiresAt) {
		return nil, fmt.Errorf("upload session has expired")
	}

	return session, nil
}

// Delete deletes an upload session
func (r *UploadSessionRepository) Delete(id uuid.UUID) error {
	return r.db.Delete(&entity.UploadSession{}, "id = ?", id).Error
}

// FindExpired finds all expired upload sessions still holding temp chunks
func (r *UploadSessionRepository) FindExpired() ([]entity.UploadSession, error) {
	var sessions []entity.UploadSession
	err := r.db.Where("expires_at < ? AND status NOT IN ?", time.Now(),
		[]entity.UploadStatus{entity.UploadStatusCompleted, entity.UploadStatusExpired}).
		Find(&sessions).Error
	return sessions, err
}

// MarkExpired flags a session whose temp chunks have been swept
func (r *UploadSessionRepository) MarkExpired(id uuid.UUID) error {
	return r.UpdateStatus(id, entity.UploadStatusExpired)
}

package repository

import (
	"errors"
	"time"

	"github.com/ducnh/coursereel/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type QueueRepository struct {
	db *gorm.DB
}

func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue inserts a pending entry for (module, step) unless a non-terminal
// entry for that pair already exists. This keeps the invariant that at most
// one entry per module per step is in flight.
func (r *QueueRepository) Enqueue(entry *entity.ProcessingQueueEntry) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing entity.ProcessingQueueEntry
		err := tx.Where("module_id = ? AND step_name = ? AND status NOT IN ?",
			entry.ModuleID, entry.StepName,
			[]entity.StepStatus{entity.StepStatusCompleted, entity.StepStatusFailed}).
			First(&existing).Error
		if err == nil {
			// already queued or running, nothing to do
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(entry).Error
	})
}

func (r *QueueRepository) FindByID(id uuid.UUID) (*entity.ProcessingQueueEntry, error) {
	var entry entity.ProcessingQueueEntry
	err := r.db.Where("id = ?", id).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Claim atomically moves a pending entry to processing for one worker. The
// conditional update is the lock: only one worker's update can match the
// pending row, so a second claim returns false instead of double-running.
func (r *QueueRepository) Claim(id uuid.UUID, workerID string) (bool, error) {
	now := time.Now()
	result := r.db.Model(&entity.ProcessingQueueEntry{}).
		Where("id = ? AND status = ? AND next_retry_at <= ?", id, entity.StepStatusPending, now).
		Updates(map[string]interface{}{
			"status":            entity.StepStatusProcessing,
			"locked_by":         workerID,
			"attempt_count":     gorm.Expr("attempt_count + 1"),
			"last_heartbeat_at": &now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClaimNextPending finds and claims the oldest ready pending entry. Returns
// (nil, nil) when nothing is claimable.
func (r *QueueRepository) ClaimNextPending(workerID string) (*entity.ProcessingQueueEntry, error) {
	for {
		var candidate entity.ProcessingQueueEntry
		err := r.db.Where("status = ? AND next_retry_at <= ?", entity.StepStatusPending, time.Now()).
			Order("created_at ASC").
			First(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}

		claimed, err := r.Claim(candidate.ID, workerID)
		if err != nil {
			return nil, err
		}
		if claimed {
			return r.FindByID(candidate.ID)
		}
		// lost the race for this entry, try the next one
	}
}

// Heartbeat refreshes the liveness timestamp of a running entry
func (r *QueueRepository) Heartbeat(id uuid.UUID) error {
	now := time.Now()
	return r.db.Model(&entity.ProcessingQueueEntry{}).
		Where("id = ? AND status IN ?", id,
			[]entity.StepStatus{entity.StepStatusProcessing, entity.StepStatusAwaitingExternal}).
		Updates(map[string]interface{}{
			"last_heartbeat_at": &now,
		}).Error
}

// MarkAwaitingExternal flags that the entry is blocked on an external job
func (r *QueueRepository) MarkAwaitingExternal(id uuid.UUID) error {
	now := time.Now()
	return r.db.Model(&entity.ProcessingQueueEntry{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            entity.StepStatusAwaitingExternal,
			"last_heartbeat_at": &now,
			"updated_at":        now,
		}).Error
}

// Complete marks an entry finished and releases the lock
func (r *QueueRepository) Complete(id uuid.UUID) error {
	return r.db.Model(&entity.ProcessingQueueEntry{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     entity.StepStatusCompleted,
			"locked_by":  "",
			"updated_at": time.Now(),
		}).Error
}

// Fail marks an entry terminally failed with its reason
func (r *QueueRepository) Fail(id uuid.UUID, reason string) error {
	return r.db.Model(&entity.ProcessingQueueEntry{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        entity.StepStatusFailed,
			"locked_by":     "",
			"error_message": reason,
			"updated_at":    time.Now(),
		}).Error
}

// ResetToPending releases the lock and makes the entry claimable again,
// optionally after a delay. Used by the watchdog and the explicit repair
// actions.
func (r *QueueRepository) ResetToPending(id uuid.UUID, retryAfter time.Duration) error {
	return r.db.Model(&entity.ProcessingQueueEntry{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            entity.StepStatusPending,
			"locked_by":         "",
			"next_retry_at":     time.Now().Add(retryAfter),
			"last_heartbeat_at": nil,
			"updated_at":        time.Now(),
		}).Error
}

// ResetAttempts zeroes the attempt counter, used by explicit retry actions
// so a user-requested restart gets a full budget again.
func (r *QueueRepository) ResetAttempts(id uuid.UUID) error {
	return r.db.Model(&entity.ProcessingQueueEntry{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_count": 0,
			"updated_at":    time.Now(),
		}).Error
}

// FindNonTerminal returns every entry the watchdog needs to inspect
func (r *QueueRepository) FindNonTerminal() ([]entity.ProcessingQueueEntry, error) {
	var entries []entity.ProcessingQueueEntry
	err := r.db.Where("status IN ?",
		[]entity.StepStatus{entity.StepStatusProcessing, entity.StepStatusAwaitingExternal}).
		Find(&entries).Error
	return entries, err
}

// FindByModule returns all entries for one module, newest first
func (r *QueueRepository) FindByModule(moduleID uuid.UUID) ([]entity.ProcessingQueueEntry, error) {
	var entries []entity.ProcessingQueueEntry
	err := r.db.Where("module_id = ?", moduleID).Order("created_at DESC").Find(&entries).Error
	return entries, err
}

// FindLatestForStep returns the most recent entry for (module, step), or
// (nil, nil) when the step was never queued.
func (r *QueueRepository) FindLatestForStep(moduleID uuid.UUID, step string) (*entity.ProcessingQueueEntry, error) {
	var entry entity.ProcessingQueueEntry
	err := r.db.Where("module_id = ? AND step_name = ?", moduleID, step).
		Order("created_at DESC").First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

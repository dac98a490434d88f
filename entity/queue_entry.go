package entity

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus is the lifecycle of one ProcessingQueueEntry
type StepStatus string

const (
	StepStatusPending          StepStatus = "pending"
	StepStatusProcessing       StepStatus = "processing"
	StepStatusAwaitingExternal StepStatus = "awaiting_external"
	StepStatusCompleted        StepStatus = "completed"
	StepStatusFailed           StepStatus = "failed"
)

// Pipeline step names, in execution order
const (
	StepExtractFrames = "extracting_frames"
	StepTranscribe    = "transcribing"
	StepAnalyze       = "analyzing"
)

// StepOrder is the fixed pipeline. Completing a step enqueues its successor.
var StepOrder = []string{StepExtractFrames, StepTranscribe, StepAnalyze}

// externalSteps are the steps that wait on slow external services; the
// watchdog gives them a video-duration-scaled staleness threshold.
var externalSteps = map[string]bool{
	StepExtractFrames: true,
	StepTranscribe:    true,
}

// IsExternalStep reports whether the step depends on an external service.
func IsExternalStep(step string) bool {
	return externalSteps[step]
}

// NextStep returns the successor of step, or "" for the terminal step.
func NextStep(step string) string {
	for i, s := range StepOrder {
		if s == step && i+1 < len(StepOrder) {
			return StepOrder[i+1]
		}
	}
	return ""
}

// ProcessingQueueEntry is one row per pipeline step per module. At most one
// entry per (module, step) may be processing or awaiting_external at a time;
// the claim is made atomic by a conditional update on status.
type ProcessingQueueEntry struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ModuleID        uuid.UUID  `json:"module_id" gorm:"type:uuid;not null;index:idx_queue_module_step"`
	StepName        string     `json:"step_name" gorm:"type:varchar(64);not null;index:idx_queue_module_step"`
	Status          StepStatus `json:"status" gorm:"type:varchar(32);not null;default:'pending';index"`
	AttemptCount    int        `json:"attempt_count" gorm:"default:0"`
	MaxAttempts     int        `json:"max_attempts" gorm:"not null"`
	LockedBy        string     `json:"locked_by" gorm:"type:varchar(128)"`
	NextRetryAt     time.Time  `json:"next_retry_at" gorm:"index"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at"`
	ErrorMessage    string     `json:"error_message" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// Terminal reports whether the entry has reached a final state.
func (e *ProcessingQueueEntry) Terminal() bool {
	return e.Status == StepStatusCompleted || e.Status == StepStatusFailed
}

// StaleReference returns the timestamp the watchdog measures staleness from:
// the heartbeat when one exists, otherwise the last update, otherwise creation.
func (e *ProcessingQueueEntry) StaleReference() time.Time {
	if e.LastHeartbeatAt != nil {
		return *e.LastHeartbeatAt
	}
	if !e.UpdatedAt.IsZero() {
		return e.UpdatedAt
	}
	return e.CreatedAt
}

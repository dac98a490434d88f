package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ModuleStatus is the processing state of one course module (one unit of work)
type ModuleStatus string

const (
	ModuleStatusQueued       ModuleStatus = "QUEUED"
	ModuleStatusProcessing   ModuleStatus = "PROCESSING"
	ModuleStatusPartialReady ModuleStatus = "PARTIAL_READY"
	ModuleStatusCompleted    ModuleStatus = "COMPLETED"
	ModuleStatusFailed       ModuleStatus = "FAILED"
)

// Course is the record created by the finalize call. BatchID is the
// client-generated idempotency key: replaying finalize with the same batch
// returns the existing course instead of creating a duplicate.
type Course struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	BatchID   uuid.UUID `json:"batch_id" gorm:"type:uuid;not null;uniqueIndex"`
	Title     string    `json:"title" gorm:"type:varchar(512);not null"`
	Email     string    `json:"email" gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;autoCreateTime"`

	Modules []CourseModule `json:"modules,omitempty" gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE"`
}

// CourseModule is one uploaded module of a course and carries the visible
// processing projection (status, percent, step, heartbeat). The projection is
// written only by the pipeline step currently holding the queue lock.
type CourseModule struct {
	ID              uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	CourseID        uuid.UUID      `json:"course_id" gorm:"type:uuid;not null;index"`
	Title           string         `json:"title" gorm:"type:varchar(512);not null"`
	Position        int            `json:"position" gorm:"not null"`
	VideoBucket     string         `json:"video_bucket" gorm:"type:varchar(255);not null"`
	VideoPath       string         `json:"video_path" gorm:"type:varchar(1024);not null"`
	ManifestID      *uuid.UUID     `json:"manifest_id,omitempty" gorm:"type:uuid;index"` // set when the video spans storage chunks
	DurationSeconds int64          `json:"duration_seconds"`
	Attachments     datatypes.JSON `json:"attachments" gorm:"type:jsonb"`
	FrameCount      int            `json:"frame_count" gorm:"default:0"`
	Frames          datatypes.JSON `json:"frames" gorm:"type:jsonb"`
	TranscriptPath  string         `json:"transcript_path" gorm:"type:varchar(1024)"`
	Status          ModuleStatus   `json:"status" gorm:"type:varchar(32);not null;default:'QUEUED'"`
	ProgressPercent int            `json:"progress_percent" gorm:"default:0"`
	ProgressStep    string         `json:"progress_step" gorm:"type:varchar(64)"`
	LastHeartbeatAt *time.Time     `json:"last_heartbeat_at"`
	ErrorMessage    string         `json:"error_message" gorm:"type:text"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// ModuleAttachment is a non-video file submitted alongside a module
type ModuleAttachment struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

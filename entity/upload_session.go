package entity

import (
	"time"

	"github.com/google/uuid"
)

// UploadStatus represents the status of an upload session
type UploadStatus string

const (
	UploadStatusInit      UploadStatus = "INIT"
	UploadStatusUploading UploadStatus = "UPLOADING"
	UploadStatusMerging   UploadStatus = "MERGING"
	UploadStatusVerifying UploadStatus = "VERIFYING"
	UploadStatusCompleted UploadStatus = "COMPLETED"
	UploadStatusFailed    UploadStatus = "FAILED"
	UploadStatusExpired   UploadStatus = "EXPIRED"
)

// UploadTransport identifies which transport owns a session
type UploadTransport string

const (
	TransportChunked   UploadTransport = "chunked"
	TransportResumable UploadTransport = "resumable"
)

// UploadSession represents one file being transported, regardless of transport.
// Duplicate uploads of the same file are intentionally independent sessions:
// every session gets a freshly generated destination path and nothing is
// deduplicated by content.
type UploadSession struct {
	ID              uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	FileName        string          `json:"file_name" gorm:"type:varchar(512);not null"`
	FileSize        int64           `json:"file_size" gorm:"not null"`
	ContentType     string          `json:"content_type" gorm:"type:varchar(255)"`
	Transport       UploadTransport `json:"transport" gorm:"type:varchar(16);not null"`
	ChunkSize       int64           `json:"chunk_size"`
	TotalChunks     int             `json:"total_chunks"`
	UploadedChunks  int             `json:"uploaded_chunks" gorm:"default:0"`
	Offset          int64           `json:"offset" gorm:"default:0"` // resumable transport only
	Status          UploadStatus    `json:"status" gorm:"type:varchar(32);not null;default:'INIT'"`
	TempBucket      string          `json:"temp_bucket" gorm:"type:varchar(255);not null"`
	TempPrefix      string          `json:"temp_prefix" gorm:"type:varchar(512);not null"`
	DestinationPath string          `json:"destination_path" gorm:"type:varchar(1024);not null"`
	ErrorMessage    string          `json:"error_message" gorm:"type:text"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
	ExpiresAt       time.Time       `json:"expires_at" gorm:"not null;index"`
}

// Active reports whether the session can still accept bytes.
func (s *UploadSession) Active() bool {
	return s.Status == UploadStatusInit || s.Status == UploadStatusUploading
}

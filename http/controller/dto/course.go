package dto

// FinalizeAttachment is one non-video file submitted with a module
type FinalizeAttachment struct {
	Name string `json:"name" binding:"required"`
	Path string `json:"path" binding:"required"`
	Size int64  `json:"size"`
}

// FinalizeModule is one already-uploaded module descriptor. Merged videos
// carry a video_path; manifest-backed videos carry a manifest_id instead.
type FinalizeModule struct {
	Title           string               `json:"title" binding:"required"`
	VideoBucket     string               `json:"video_bucket" binding:"required"`
	VideoPath       string               `json:"video_path"`
	ManifestID      string               `json:"manifest_id"`
	DurationSeconds int64                `json:"duration_seconds"`
	Attachments     []FinalizeAttachment `json:"attachments"`
}

// FinalizeCourseRequest creates the course record after all uploads landed.
// BatchID is the idempotency key: replaying with the same id returns the
// course created by the first call.
type FinalizeCourseRequest struct {
	BatchID string           `json:"batch_id" binding:"required"`
	Title   string           `json:"title" binding:"required"`
	Email   string           `json:"email" binding:"required,email"`
	Modules []FinalizeModule `json:"modules" binding:"required,min=1"`
}

// FinalizeCourseResponse returns the created (or replayed) identifiers
type FinalizeCourseResponse struct {
	CourseID  string   `json:"course_id"`
	BatchID   string   `json:"batch_id"`
	ModuleIDs []string `json:"module_ids"`
	Replayed  bool     `json:"replayed"`
}

// ModuleProgressResponse is the processing projection served to the UI
type ModuleProgressResponse struct {
	ModuleID        string `json:"module_id"`
	Status          string `json:"status"`
	ProgressPercent int    `json:"progress_percent"`
	ProgressStep    string `json:"progress_step"`
	LastHeartbeatAt string `json:"last_heartbeat_at,omitempty"`
}

// PipelineActionResponse reports the effect of a retry/repair/kickstart call
type PipelineActionResponse struct {
	ModuleID string `json:"module_id"`
	Action   string `json:"action"`
	Step     string `json:"step"`
	Message  string `json:"message"`
}

// HealthResponse is the batch pre-flight report: per-dependency status plus
// the overall readiness verdict
type HealthResponse struct {
	Dependencies  map[string]string `json:"dependencies"` // ok | degraded | fail
	ReadyForBatch bool              `json:"ready_for_batch"`
	Warnings      []string          `json:"warnings,omitempty"`
}

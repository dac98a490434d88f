package dto

// InitChunkedUploadRequest starts a chunked upload session
type InitChunkedUploadRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required,gt=0"`
	ContentType string `json:"content_type"`
}

// InitChunkedUploadResponse carries the session handle and chunk geometry
type InitChunkedUploadResponse struct {
	UploadID    string `json:"upload_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	ExpiresAt   string `json:"expires_at"`
}

// PresignChunkRequest asks for a pre-signed PUT destination for one chunk
type PresignChunkRequest struct {
	UploadID   string `json:"upload_id" binding:"required"`
	ChunkIndex int    `json:"chunk_index" binding:"min=0"`
}

// PresignChunkResponse is the destination for one chunk
type PresignChunkResponse struct {
	ChunkIndex int    `json:"chunk_index"`
	URL        string `json:"url"`
	Path       string `json:"path"`
}

// ChunkUploadedRequest confirms one chunk landed so the session advances
type ChunkUploadedRequest struct {
	UploadID   string `json:"upload_id" binding:"required"`
	ChunkIndex int    `json:"chunk_index" binding:"min=0"`
	Size       int64  `json:"size" binding:"required,gt=0"`
}

// CompleteChunkedUploadRequest merges all chunks of a session
type CompleteChunkedUploadRequest struct {
	UploadID string `json:"upload_id" binding:"required"`
}

// CompleteChunkedUploadResponse reports how the merge ended: a single merged
// object or a chunk manifest when the object was too large to merge in place
type CompleteChunkedUploadResponse struct {
	Mode       string `json:"mode"` // merged | chunked
	Bucket     string `json:"bucket"`
	Path       string `json:"path"`        // merged mode
	ManifestID string `json:"manifest_id"` // chunked mode
	TotalSize  int64  `json:"total_size"`
}

// UploadProgressResponse is the current server-side view of a session
type UploadProgressResponse struct {
	UploadID       string  `json:"upload_id"`
	UploadedChunks int     `json:"uploaded_chunks"`
	TotalChunks    int     `json:"total_chunks"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
}

// CreateResumableRequest starts an offset-tracked upload
type CreateResumableRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required,gt=0"`
	ContentType string `json:"content_type"`
}

// CreateResumableResponse carries the session handle and frame size
type CreateResumableResponse struct {
	UploadID  string `json:"upload_id"`
	FrameSize int64  `json:"frame_size"`
	ExpiresAt string `json:"expires_at"`
}

// ResumableOffsetResponse reports the server-confirmed offset
type ResumableOffsetResponse struct {
	UploadID string `json:"upload_id"`
	Offset   int64  `json:"offset"`
	Complete bool   `json:"complete"`
	Bucket   string `json:"bucket,omitempty"`
	Path     string `json:"path,omitempty"`
}

// StatObjectResponse is the read-back verification probe result
type StatObjectResponse struct {
	Bucket      string `json:"bucket"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

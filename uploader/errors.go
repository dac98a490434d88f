package uploader

import (
	"errors"
	"fmt"
)

// Sentinel signals translated from transport responses. They drive control
// flow rather than being surfaced to callers directly: payload-too-large
// triggers the transport fallback, an offset conflict forces a fresh session.
var (
	ErrPayloadTooLarge = errors.New("payload too large for this transport")
	ErrOffsetConflict  = errors.New("server offset disagrees with client offset")
)

// TransportError wraps a failed transfer operation. Retryable tells the
// caller whether repeating the same call has any chance of succeeding.
type TransportError struct {
	Retryable bool
	Message   string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (retryable=%t): %s", e.Retryable, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ChunkUploadError identifies which chunk of a chunked upload failed
type ChunkUploadError struct {
	ChunkIndex int
	Reason     string
	Err        error
}

func (e *ChunkUploadError) Error() string {
	return fmt.Sprintf("chunk %d upload failed: %s", e.ChunkIndex, e.Reason)
}

func (e *ChunkUploadError) Unwrap() error { return e.Err }

// VerifyError means the transport reported success but the object never
// became readable. Treated as a hard failure of the whole upload.
type VerifyError struct {
	Bucket   string
	Path     string
	Attempts int
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("object %s/%s not readable after %d verification probes", e.Bucket, e.Path, e.Attempts)
}

// PreflightError blocks a batch before any byte moves
type PreflightError struct {
	Failures []string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("batch pre-flight failed: %v", e.Failures)
}

// UploadError is what the session manager surfaces to the orchestrator:
// transport-level detail is already resolved into a reason and a retry hint.
type UploadError struct {
	FileName  string
	Reason    string
	Retryable bool
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %q failed: %s", e.FileName, e.Reason)
}

func (e *UploadError) Unwrap() error { return e.Err }

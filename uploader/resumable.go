package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ducnh/coursereel/http/controller/dto"
	"github.com/ducnh/coursereel/uploader/statestore"
)

const (
	frameMaxAttempts   = 5
	frameRetryBaseWait = 1 * time.Second
)

// ResumableTransport streams a file as fixed-size frames against a
// server-confirmed offset. Every upload gets a freshly generated remote
// path; resuming continues a session, it never merges with another one.
type ResumableTransport struct {
	client *Client
	store  *statestore.Store

	onProgress ProgressFunc
	onEvent    EventFunc

	sleep func(ctx context.Context, d time.Duration) error
}

func NewResumableTransport(client *Client, store *statestore.Store, onProgress ProgressFunc, onEvent EventFunc) *ResumableTransport {
	return &ResumableTransport{
		client:     client,
		store:      store,
		onProgress: onProgress,
		onEvent:    onEvent,
		sleep:      sleepCtx,
	}
}

// Upload transfers the file and returns its remote location. Returns
// ErrPayloadTooLarge when the server rejects the size outright, which the
// session manager translates into a transport fallback.
func (t *ResumableTransport) Upload(ctx context.Context, file *LocalFile) (*RemoteLocation, error) {
	key := statestore.IdentityKey(file.Name, file.Size, file.ModTime)

	session, frameSize, offset, err := t.resumeOrCreate(ctx, key, file)
	if err != nil {
		return nil, err
	}

	src, err := os.Open(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file.Path, err)
	}
	defer src.Close()

	tracker := newProgressTracker(file.Name, file.Size)
	frame := make([]byte, frameSize)

	for offset < file.Size {
		// Cooperative cancellation point between frames
		if err := ctx.Err(); err != nil {
			return nil, &TransportError{Retryable: false, Message: "upload cancelled", Err: err}
		}

		n, err := src.ReadAt(frame, offset)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read frame at %d: %w", offset, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("unexpected zero-length frame at offset %d", offset)
		}

		resp, err := t.sendFrame(ctx, session.UploadID, offset, frame[:n])
		if err != nil {
			if errors.Is(err, ErrOffsetConflict) {
				// The server's offset disagrees with ours. Retrying into a
				// corrupted offset would corrupt the object, so all local
				// state is discarded and the caller restarts fresh.
				_ = t.store.ClearSession(key)
				return nil, &TransportError{Retryable: false, Message: "offset conflict, session discarded", Err: ErrOffsetConflict}
			}
			return nil, err
		}

		offset = resp.Offset
		t.emit(FrameSent{Offset: offset, Size: int64(n)})

		session.BytesUploaded = offset
		session.Phase = "uploading"
		if err := t.store.SaveSession(key, session); err != nil {
			return nil, fmt.Errorf("failed to persist session state: %w", err)
		}
		if t.onProgress != nil {
			t.onProgress(tracker.update(offset))
		}

		if resp.Complete {
			_ = t.store.ClearSession(key)
			return &RemoteLocation{
				Mode:      "merged",
				Bucket:    resp.Bucket,
				Path:      resp.Path,
				TotalSize: file.Size,
			}, nil
		}
	}

	return nil, fmt.Errorf("stream ended at offset %d without server completion", offset)
}

// resumeOrCreate loads a persisted session and re-syncs its offset with the
// server, or creates a fresh remote target.
func (t *ResumableTransport) resumeOrCreate(ctx context.Context, key string, file *LocalFile) (*statestore.SessionRecord, int64, int64, error) {
	if session, ok, err := t.store.LoadSession(key); err != nil {
		return nil, 0, 0, err
	} else if ok && session.Transport == "resumable" && session.FrameSize > 0 {
		// The server's offset wins over whatever we persisted
		remote, err := t.client.ResumableOffset(ctx, session.UploadID)
		if err == nil && !remote.Complete {
			return session, session.FrameSize, remote.Offset, nil
		}
		// Session vanished server-side (expired, swept): start over
		_ = t.store.ClearSession(key)
	}

	resp, err := t.client.CreateResumable(ctx, dto.CreateResumableRequest{
		FileName:    file.Name,
		FileSize:    file.Size,
		ContentType: "application/octet-stream",
	})
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			return nil, 0, 0, ErrPayloadTooLarge
		}
		return nil, 0, 0, fmt.Errorf("failed to create resumable target: %w", err)
	}

	session := &statestore.SessionRecord{
		UploadID:   resp.UploadID,
		FileName:   file.Name,
		TotalBytes: file.Size,
		Transport:  "resumable",
		FrameSize:  resp.FrameSize,
		Phase:      "preparing",
		CreatedAt:  time.Now(),
	}
	if err := t.store.SaveSession(key, session); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to persist session state: %w", err)
	}
	return session, resp.FrameSize, 0, nil
}

// sendFrame pushes one frame with bounded exponential backoff. Only
// transient errors are retried; an offset conflict or any other client-class
// rejection aborts immediately.
func (t *ResumableTransport) sendFrame(ctx context.Context, uploadID string, offset int64, frame []byte) (*dto.ResumableOffsetResponse, error) {
	var lastErr error
	delay := frameRetryBaseWait
	for attempt := 1; attempt <= frameMaxAttempts; attempt++ {
		if attempt > 1 {
			t.emit(RetryAttempted{Operation: fmt.Sprintf("frame@%d", offset), Attempt: attempt, Delay: delay})
			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}

		resp, err := t.client.PatchFrame(ctx, uploadID, offset, frame)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, ErrOffsetConflict) || errors.Is(err, ErrPayloadTooLarge) {
			return nil, err
		}
		var te *TransportError
		if errors.As(err, &te) && !te.Retryable {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("exhausted %d attempts: %w", frameMaxAttempts, lastErr)
}

func (t *ResumableTransport) emit(event Event) {
	if t.onEvent != nil {
		t.onEvent(event)
	}
}

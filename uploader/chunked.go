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
	chunkMaxAttempts   = 3
	chunkRetryBaseWait = 2 * time.Second
)

// ChunkEngine uploads a file as fixed-size ranges, strictly in index order,
// persisting the descriptor set after every chunk so an interrupted upload
// resumes with at most one chunk lost.
type ChunkEngine struct {
	client *Client
	store  *statestore.Store

	onProgress ProgressFunc
	onEvent    EventFunc

	// test seam for retry delays
	sleep func(ctx context.Context, d time.Duration) error
}

func NewChunkEngine(client *Client, store *statestore.Store, onProgress ProgressFunc, onEvent EventFunc) *ChunkEngine {
	return &ChunkEngine{
		client:     client,
		store:      store,
		onProgress: onProgress,
		onEvent:    onEvent,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Upload transfers the file and returns where it landed. Resume is
// transparent: a persisted descriptor set matching this file (by identity
// key and size, younger than the TTL) continues where it stopped.
func (e *ChunkEngine) Upload(ctx context.Context, file *LocalFile) (*RemoteLocation, error) {
	key := statestore.IdentityKey(file.Name, file.Size, file.ModTime)

	set, err := e.loadOrCreateSet(ctx, key, file)
	if err != nil {
		return nil, err
	}

	src, err := os.Open(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file.Path, err)
	}
	defer src.Close()

	tracker := newProgressTracker(file.Name, file.Size)
	var transferred int64
	for i := range set.Chunks {
		if set.Chunks[i].Uploaded {
			transferred += set.Chunks[i].Size
			continue
		}

		// Cooperative cancellation point between chunks
		if err := ctx.Err(); err != nil {
			return nil, &TransportError{Retryable: false, Message: "upload cancelled", Err: err}
		}

		if err := e.uploadChunk(ctx, set, i, src); err != nil {
			e.emit(ChunkFailed{ChunkIndex: i, Err: err})
			return nil, &ChunkUploadError{ChunkIndex: i, Reason: err.Error(), Err: err}
		}

		// Mark and persist only after the chunk fully landed, so a crash
		// mid-transfer never records a half-written chunk as uploaded.
		set.Chunks[i].Uploaded = true
		if err := e.store.SaveChunkSet(key, set); err != nil {
			return nil, fmt.Errorf("failed to persist chunk state: %w", err)
		}

		transferred += set.Chunks[i].Size
		e.emit(ChunkSent{ChunkIndex: i, Size: set.Chunks[i].Size})
		if e.onProgress != nil {
			e.onProgress(tracker.update(transferred))
		}
	}

	result, err := e.client.CompleteChunked(ctx, dto.CompleteChunkedUploadRequest{UploadID: set.UploadID})
	if err != nil {
		return nil, fmt.Errorf("failed to complete chunked upload: %w", err)
	}

	_ = e.store.ClearChunkSet(key)

	return &RemoteLocation{
		Mode:       result.Mode,
		Bucket:     result.Bucket,
		Path:       result.Path,
		ManifestID: result.ManifestID,
		TotalSize:  result.TotalSize,
	}, nil
}

// loadOrCreateSet reuses a persisted descriptor set or initializes a fresh
// session and partitions the file into chunk ranges.
func (e *ChunkEngine) loadOrCreateSet(ctx context.Context, key string, file *LocalFile) (*statestore.ChunkSetRecord, error) {
	if set, ok, err := e.store.LoadChunkSet(key, file.Size); err != nil {
		return nil, err
	} else if ok {
		return set, nil
	}

	resp, err := e.client.InitChunked(ctx, dto.InitChunkedUploadRequest{
		FileName:    file.Name,
		FileSize:    file.Size,
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init chunked upload: %w", err)
	}

	set := &statestore.ChunkSetRecord{
		UploadID:   resp.UploadID,
		TotalBytes: file.Size,
		ChunkSize:  resp.ChunkSize,
		Chunks:     buildChunkRecords(file.Size, resp.ChunkSize),
		CreatedAt:  time.Now(),
	}
	if len(set.Chunks) != resp.TotalChunks {
		return nil, fmt.Errorf("chunk count mismatch: built %d, server expects %d", len(set.Chunks), resp.TotalChunks)
	}

	if err := e.store.SaveChunkSet(key, set); err != nil {
		return nil, fmt.Errorf("failed to persist chunk state: %w", err)
	}
	return set, nil
}

// buildChunkRecords partitions [0, totalBytes) into fixed ranges with no
// gaps or overlaps; only the last chunk may be short.
func buildChunkRecords(totalBytes, chunkSize int64) []statestore.ChunkRecord {
	count := int((totalBytes + chunkSize - 1) / chunkSize)
	chunks := make([]statestore.ChunkRecord, 0, count)
	for i := 0; i < count; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > totalBytes {
			end = totalBytes
		}
		chunks = append(chunks, statestore.ChunkRecord{
			Index: i,
			Start: start,
			End:   end,
			Size:  end - start,
		})
	}
	return chunks
}

// uploadChunk moves one byte range: presign, stream, confirm. Up to three
// attempts with doubling delay; cancellation aborts immediately and is never
// retried.
func (e *ChunkEngine) uploadChunk(ctx context.Context, set *statestore.ChunkSetRecord, index int, src io.ReaderAt) error {
	chunk := &set.Chunks[index]

	var lastErr error
	delay := chunkRetryBaseWait
	for attempt := 1; attempt <= chunkMaxAttempts; attempt++ {
		if attempt > 1 {
			e.emit(RetryAttempted{Operation: fmt.Sprintf("chunk %d", index), Attempt: attempt, Delay: delay})
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}

		lastErr = e.tryChunk(ctx, set, chunk, src)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		var te *TransportError
		if errors.As(lastErr, &te) && !te.Retryable {
			return lastErr
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", chunkMaxAttempts, lastErr)
}

func (e *ChunkEngine) tryChunk(ctx context.Context, set *statestore.ChunkSetRecord, chunk *statestore.ChunkRecord, src io.ReaderAt) error {
	presigned, err := e.client.PresignChunk(ctx, dto.PresignChunkRequest{
		UploadID:   set.UploadID,
		ChunkIndex: chunk.Index,
	})
	if err != nil {
		return fmt.Errorf("failed to presign chunk: %w", err)
	}

	section := io.NewSectionReader(src, chunk.Start, chunk.Size)
	if err := e.client.PutPresigned(ctx, presigned.URL, section, chunk.Size); err != nil {
		return fmt.Errorf("failed to put chunk bytes: %w", err)
	}

	if err := e.client.ConfirmChunk(ctx, dto.ChunkUploadedRequest{
		UploadID:   set.UploadID,
		ChunkIndex: chunk.Index,
		Size:       chunk.Size,
	}); err != nil {
		return fmt.Errorf("failed to confirm chunk: %w", err)
	}

	chunk.RemotePath = presigned.Path
	return nil
}

func (e *ChunkEngine) emit(event Event) {
	if e.onEvent != nil {
		e.onEvent(event)
	}
}

package uploader

import (
	"context"
	"errors"
	"time"

	"github.com/ducnh/coursereel/uploader/statestore"
)

const (
	// DefaultChunkedThreshold is the file size above which the chunked
	// transport is chosen outright.
	DefaultChunkedThreshold = int64(5) << 30

	verifyAttempts = 5
	verifyDelay    = 2 * time.Second
)

// SessionManager owns one upload end to end: transport choice, transparent
// fallback, and read-back verification. Callers see upload(file) →
// remoteLocation and never the transport mechanics.
type SessionManager struct {
	client *Client
	store  *statestore.Store

	chunkedThreshold int64

	onProgress ProgressFunc
	onEvent    EventFunc

	sleep func(ctx context.Context, d time.Duration) error
}

type SessionManagerOption func(*SessionManager)

func WithChunkedThreshold(bytes int64) SessionManagerOption {
	return func(m *SessionManager) { m.chunkedThreshold = bytes }
}

func WithProgress(fn ProgressFunc) SessionManagerOption {
	return func(m *SessionManager) { m.onProgress = fn }
}

func WithEvents(fn EventFunc) SessionManagerOption {
	return func(m *SessionManager) { m.onEvent = fn }
}

func NewSessionManager(client *Client, store *statestore.Store, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		client:           client,
		store:            store,
		chunkedThreshold: DefaultChunkedThreshold,
		sleep:            sleepCtx,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Upload transfers one file and verifies it actually landed. A transport
// success without a passing verification probe is still a failure: storage
// propagation lag must not produce false positives.
func (m *SessionManager) Upload(ctx context.Context, file *LocalFile) (*RemoteLocation, error) {
	return m.UploadWithProgress(ctx, file, m.onProgress)
}

// UploadWithProgress runs one upload reporting to the given callback. The
// callback travels with the call rather than through shared manager state,
// so concurrent uploads cannot observe each other's reporting.
func (m *SessionManager) UploadWithProgress(ctx context.Context, file *LocalFile, onProgress ProgressFunc) (*RemoteLocation, error) {
	location, err := m.transfer(ctx, file, onProgress)
	if err != nil {
		return nil, err
	}

	if err := m.verify(ctx, location); err != nil {
		return nil, &UploadError{
			FileName:  file.Name,
			Reason:    err.Error(),
			Retryable: true,
			Err:       err,
		}
	}
	return location, nil
}

// transfer picks the transport by size and falls back to chunked when the
// resumable transport reports the payload is too large. The fallback is
// invisible to the caller.
func (m *SessionManager) transfer(ctx context.Context, file *LocalFile, onProgress ProgressFunc) (*RemoteLocation, error) {
	if file.Size > m.chunkedThreshold {
		location, err := m.chunkEngine(onProgress).Upload(ctx, file)
		if err != nil {
			return nil, m.resolve(file, err)
		}
		return location, nil
	}

	location, err := m.resumable(onProgress).Upload(ctx, file)
	if err == nil {
		return location, nil
	}
	if !errors.Is(err, ErrPayloadTooLarge) {
		return nil, m.resolve(file, err)
	}

	m.emit(TransportFallback{From: "resumable", To: "chunked"})
	location, err = m.chunkEngine(onProgress).Upload(ctx, file)
	if err != nil {
		return nil, m.resolve(file, err)
	}
	return location, nil
}

// verify probes the uploaded object until it reads back, up to five attempts
// with a fixed delay.
func (m *SessionManager) verify(ctx context.Context, location *RemoteLocation) error {
	var lastOK bool
	for attempt := 1; attempt <= verifyAttempts; attempt++ {
		if attempt > 1 {
			if err := m.sleep(ctx, verifyDelay); err != nil {
				return err
			}
		}

		var err error
		if location.Mode == "chunked" {
			err = m.client.ManifestExists(ctx, location.ManifestID)
		} else {
			_, err = m.client.StatObject(ctx, location.Bucket, location.Path)
		}

		lastOK = err == nil
		m.emit(VerificationProbe{Attempt: attempt, OK: lastOK})
		if lastOK {
			return nil
		}
	}
	return &VerifyError{Bucket: location.Bucket, Path: location.Path, Attempts: verifyAttempts}
}

// resolve translates transport-level errors into the orchestrator-facing
// shape: file name, human-readable reason, retry hint.
func (m *SessionManager) resolve(file *LocalFile, err error) error {
	var upErr *UploadError
	if errors.As(err, &upErr) {
		return err
	}

	retryable := true
	var te *TransportError
	if errors.As(err, &te) {
		retryable = te.Retryable
	}
	return &UploadError{
		FileName:  file.Name,
		Reason:    err.Error(),
		Retryable: retryable,
		Err:       err,
	}
}

func (m *SessionManager) chunkEngine(onProgress ProgressFunc) *ChunkEngine {
	engine := NewChunkEngine(m.client, m.store, onProgress, m.onEvent)
	engine.sleep = m.sleep
	return engine
}

func (m *SessionManager) resumable(onProgress ProgressFunc) *ResumableTransport {
	transport := NewResumableTransport(m.client, m.store, onProgress, m.onEvent)
	transport.sleep = m.sleep
	return transport
}

func (m *SessionManager) emit(event Event) {
	if m.onEvent != nil {
		m.onEvent(event)
	}
}

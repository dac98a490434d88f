package uploader

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducnh/coursereel/uploader/statestore"
)

func TestResumableUploadCompletes(t *testing.T) {
	api := newFakeAPI(t)
	store := newTestStore(t)
	file := writeTempFile(t, t.TempDir(), "talk.mp4", 3*api.frameSize+7)

	transport := NewResumableTransport(api.client(), store, nil, nil)
	transport.sleep = noSleep

	location, err := transport.Upload(context.Background(), file)
	require.NoError(t, err)

	assert.Equal(t, "merged", location.Mode)
	assert.Equal(t, "media", location.Bucket)

	original, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, original, api.objects["media/"+location.Path])

	key := statestore.IdentityKey(file.Name, file.Size, file.ModTime)
	_, ok, err := store.LoadSession(key)
	require.NoError(t, err)
	assert.False(t, ok, "session state must be cleared on success")
}

func TestResumableResumesFromServerOffset(t *testing.T) {
	api := newFakeAPI(t)
	store := newTestStore(t)
	file := writeTempFile(t, t.TempDir(), "talk.mp4", 6*api.frameSize)

	// Interrupt after the second frame lands
	ctx, cancel := context.WithCancel(context.Background())
	transport := NewResumableTransport(api.client(), store, nil, func(e Event) {
		if sent, ok := e.(FrameSent); ok && sent.Offset >= 2*api.frameSize {
			cancel()
		}
	})
	transport.sleep = noSleep

	_, err := transport.Upload(ctx, file)
	require.Error(t, err)

	patchesAfterFirstRun := api.patchCalls
	assert.Equal(t, 2, patchesAfterFirstRun)

	// Restart: the transport re-syncs with the server-confirmed offset and
	// sends only the remaining frames
	resumed := NewResumableTransport(api.client(), store, nil, nil)
	resumed.sleep = noSleep

	location, err := resumed.Upload(context.Background(), file)
	require.NoError(t, err)

	assert.Equal(t, 6, api.patchCalls, "already-confirmed frames must not be resent")

	original, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, original, api.objects["media/"+location.Path])
}

func TestResumableOffsetConflictDiscardsState(t *testing.T) {
	api := newFakeAPI(t)
	api.conflictAt = 2 * api.frameSize
	store := newTestStore(t)
	file := writeTempFile(t, t.TempDir(), "talk.mp4", 4*api.frameSize)

	transport := NewResumableTransport(api.client(), store, nil, nil)
	transport.sleep = noSleep

	_, err := transport.Upload(context.Background(), file)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOffsetConflict)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Retryable, "offset conflicts must never be retried in place")

	key := statestore.IdentityKey(file.Name, file.Size, file.ModTime)
	_, ok, loadErr := store.LoadSession(key)
	require.NoError(t, loadErr)
	assert.False(t, ok, "all local resume state must be discarded on conflict")
}

func TestResumableTooLargeSurfacesSentinel(t *testing.T) {
	api := newFakeAPI(t)
	api.forceOffset413 = true
	store := newTestStore(t)
	file := writeTempFile(t, t.TempDir(), "talk.mp4", 2*api.frameSize)

	transport := NewResumableTransport(api.client(), store, nil, nil)
	transport.sleep = noSleep

	_, err := transport.Upload(context.Background(), file)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestResumableRetriesTransientFrameErrors(t *testing.T) {
	api := newFakeAPI(t)
	api.patchFailures = 2
	store := newTestStore(t)
	file := writeTempFile(t, t.TempDir(), "talk.mp4", 2*api.frameSize)

	var retries int
	transport := NewResumableTransport(api.client(), store, nil, func(e Event) {
		if _, ok := e.(RetryAttempted); ok {
			retries++
		}
	})
	transport.sleep = noSleep

	_, err := transport.Upload(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, 2, retries)
}

func TestResumableFreshPathPerUpload(t *testing.T) {
	api := newFakeAPI(t)
	store := newTestStore(t)
	dir := t.TempDir()

	first := writeTempFile(t, dir, "same.mp4", 2*api.frameSize)

	transport := NewResumableTransport(api.client(), store, nil, nil)
	transport.sleep = noSleep

	locationA, err := transport.Upload(context.Background(), first)
	require.NoError(t, err)

	locationB, err := transport.Upload(context.Background(), first)
	require.NoError(t, err)

	assert.NotEqual(t, locationA.Path, locationB.Path,
		"uploading the same file twice must produce two independent artifacts")
}

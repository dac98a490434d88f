package uploader

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducnh/coursereel/uploader/statestore"
)

func TestChunkEngineUploadsAndMerges(t *testing.T) {
	api := newFakeAPI(t)
	store := newTestStore(t)
	file := writeTempFile(t, t.TempDir(), "lecture.mp4", 4*api.chunkSize+10)

	engine := NewChunkEngine(api.client(), store, nil, nil)
	engine.sleep = noSleep

	location, err := engine.Upload(context.Background(), file)
	require.NoError(t, err)

	assert.Equal(t, "merged", location.Mode)
	assert.Equal(t, "media", location.Bucket)
	assert.Equal(t, file.Size, location.TotalSize)

	original, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, original, api.objects["media/"+location.Path], "reassembled object must be byte-identical")
}

func TestChunkEngineManifestModeAboveComposeLimit(t *testing.T) {
	api := newFakeAPI(t)
	api.composeLimit = 100 // force chunk-manifest mode
	store := newTestStore(t)

	// 14 full chunks, the analog of a 7 GiB file at 500 MiB chunks
	file := writeTempFile(t, t.TempDir(), "huge.mp4", 14*api.chunkSize)

	engine := NewChunkEngine(api.client(), store, nil, nil)
	engine.sleep = noSleep

	location, err := engine.Upload(context.Background(), file)
	require.NoError(t, err)

	assert.Equal(t, "chunked", location.Mode)
	assert.NotEmpty(t, location.ManifestID)
	assert.Empty(t, location.Path)

	api.mu.Lock()
	session := api.sessions[firstChunkedSession(api)]
	api.mu.Unlock()
	assert.Equal(t, 14, session.manifestLen, "manifest must have exactly 14 entries")

	original, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, original, api.objects["media/manifest/"+location.ManifestID])
}

func firstChunkedSession(api *fakeAPI) string {
	for id, s := range api.sessions {
		if s.transport == "chunked" {
			return id
		}
	}
	return ""
}

func TestChunkEngineResumeSkipsUploadedChunks(t *testing.T) {
	api := newFakeAPI(t)
	api.composeLimit = 100
	store := newTestStore(t)
	file := writeTempFile(t, t.TempDir(), "huge.mp4", 14*api.chunkSize)

	// First run: cancel after chunk 9 lands, as if the process was killed
	ctx, cancel := context.WithCancel(context.Background())
	engine := NewChunkEngine(api.client(), store, nil, func(e Event) {
		if sent, ok := e.(ChunkSent); ok && sent.ChunkIndex == 9 {
			cancel()
		}
	})
	engine.sleep = noSleep

	_, err := engine.Upload(ctx, file)
	require.Error(t, err)

	key := statestore.IdentityKey(file.Name, file.Size, file.ModTime)
	set, ok, err := store.LoadChunkSet(key, file.Size)
	require.NoError(t, err)
	require.True(t, ok, "descriptor set must survive the interruption")
	for i, chunk := range set.Chunks {
		assert.Equal(t, i <= 9, chunk.Uploaded, "chunk %d uploaded flag", i)
	}

	putsAfterFirstRun := api.putCalls
	assert.Equal(t, 10, putsAfterFirstRun)

	// Second run: chunks 0-9 are skipped, 10-13 upload
	resumed := NewChunkEngine(api.client(), store, nil, nil)
	resumed.sleep = noSleep

	location, err := resumed.Upload(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "chunked", location.Mode)

	assert.Equal(t, 14, api.putCalls, "already-uploaded chunks must never be re-uploaded")

	original, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, original, api.objects["media/manifest/"+location.ManifestID],
		"interrupted-and-resumed upload must produce a byte-identical object")

	_, ok, err = store.LoadChunkSet(key, file.Size)
	require.NoError(t, err)
	assert.False(t, ok, "chunk state must be cleared after success")
}

func TestChunkEngineRetriesTransientChunkFailures(t *testing.T) {
	api := newFakeAPI(t)
	api.putFailures[2] = 2 // chunk 2 fails twice, succeeds on the third try
	store := newTestStore(t)
	file := writeTempFile(t, t.TempDir(), "clip.mp4", 4*api.chunkSize)

	var retries int
	engine := NewChunkEngine(api.client(), store, nil, func(e Event) {
		if _, ok := e.(RetryAttempted); ok {
			retries++
		}
	})
	engine.sleep = noSleep

	_, err := engine.Upload(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, 2, retries)
}

func TestChunkEngineFailsAfterExhaustedAttempts(t *testing.T) {
	api := newFakeAPI(t)
	api.putFailures[1] = 10 // more failures than the engine will attempt
	store := newTestStore(t)
	file := writeTempFile(t, t.TempDir(), "clip.mp4", 3*api.chunkSize)

	engine := NewChunkEngine(api.client(), store, nil, nil)
	engine.sleep = noSleep

	_, err := engine.Upload(context.Background(), file)
	require.Error(t, err)

	var chunkErr *ChunkUploadError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 1, chunkErr.ChunkIndex)
}

func TestBuildChunkRecordsPartitionsExactly(t *testing.T) {
	chunks := buildChunkRecords(14*500, 500)
	require.Len(t, chunks, 14)

	var covered int64
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, covered, chunk.Start, "no gaps or overlaps")
		assert.Equal(t, chunk.End-chunk.Start, chunk.Size)
		covered = chunk.End
	}
	assert.Equal(t, int64(14*500), covered)

	// Short tail chunk
	chunks = buildChunkRecords(1050, 500)
	require.Len(t, chunks, 3)
	assert.Equal(t, int64(50), chunks[2].Size)
}

func TestChunkEngineConcatenationMatchesOrder(t *testing.T) {
	api := newFakeAPI(t)
	store := newTestStore(t)
	file := writeTempFile(t, t.TempDir(), "ordered.mp4", 6*api.chunkSize)

	engine := NewChunkEngine(api.client(), store, nil, nil)
	engine.sleep = noSleep

	location, err := engine.Upload(context.Background(), file)
	require.NoError(t, err)

	original, err := os.ReadFile(file.Path)
	require.NoError(t, err)

	var expected bytes.Buffer
	for i := int64(0); i < 6; i++ {
		expected.Write(original[i*api.chunkSize : (i+1)*api.chunkSize])
	}
	assert.Equal(t, expected.Bytes(), api.objects["media/"+location.Path])
}

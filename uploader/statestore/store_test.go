package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestIdentityKeyStableAndDistinct(t *testing.T) {
	mod := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)

	key := IdentityKey("lecture.mp4", 4096, mod)
	assert.Equal(t, key, IdentityKey("lecture.mp4", 4096, mod))
	assert.Len(t, key, 32)

	assert.NotEqual(t, key, IdentityKey("lecture2.mp4", 4096, mod))
	assert.NotEqual(t, key, IdentityKey("lecture.mp4", 4097, mod))
	assert.NotEqual(t, key, IdentityKey("lecture.mp4", 4096, mod.Add(time.Nanosecond)))
}

func TestSessionRoundTrip(t *testing.T) {
	store := newStore(t)

	record := &SessionRecord{
		UploadID:        "upl-1",
		FileName:        "lecture.mp4",
		TotalBytes:      4096,
		Transport:       "resumable",
		FrameSize:       1024,
		BytesUploaded:   2048,
		Phase:           "uploading",
		DestinationPath: "videos/upl-1/lecture.mp4",
		CreatedAt:       time.Now(),
	}
	require.NoError(t, store.SaveSession("key-a", record))

	loaded, ok, err := store.LoadSession("key-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record.UploadID, loaded.UploadID)
	assert.Equal(t, record.FrameSize, loaded.FrameSize)
	assert.Equal(t, record.BytesUploaded, loaded.BytesUploaded)

	require.NoError(t, store.ClearSession("key-a"))
	_, ok, err = store.LoadSession("key-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiredSessionReportedAbsent(t *testing.T) {
	store := newStore(t)

	record := &SessionRecord{
		UploadID:  "upl-old",
		CreatedAt: time.Now().Add(-RecordTTL - time.Minute),
	}
	require.NoError(t, store.SaveSession("key-old", record))

	_, ok, err := store.LoadSession("key-old")
	require.NoError(t, err)
	assert.False(t, ok)

	// The expired file is swept, not just skipped.
	_, statErr := os.Stat(filepath.Join(store.dir, "session_key-old.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCorruptRecordReportedAbsent(t *testing.T) {
	store := newStore(t)

	path := filepath.Join(store.dir, "session_key-bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, ok, err := store.LoadSession("key-bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChunkSetSizeMismatchClearsState(t *testing.T) {
	store := newStore(t)

	record := &ChunkSetRecord{
		UploadID:   "upl-2",
		TotalBytes: 900,
		ChunkSize:  64,
		Chunks:     []ChunkRecord{{Index: 0, Start: 0, End: 64, Size: 64, Uploaded: true}},
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.SaveChunkSet("key-b", record))

	loaded, ok, err := store.LoadChunkSet("key-b", 900)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, loaded.Chunks[0].Uploaded)

	// The file changed size on disk since the state was written: the stale
	// descriptor set must not be resumed against the new content.
	_, ok, err = store.LoadChunkSet("key-b", 1000)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.LoadChunkSet("key-b", 900)
	require.NoError(t, err)
	assert.False(t, ok, "a rejected chunk set is cleared, not retried")
}

func TestPendingSubmissionLifecycle(t *testing.T) {
	store := newStore(t)

	first := &PendingSubmissionRecord{
		BatchID:     "batch-1",
		CourseTitle: "Go From Scratch",
		Email:       "instructor@example.com",
		Modules: []ModuleRecord{{
			Title:     "Hello World",
			VideoPath: "videos/a/hello.mp4",
			Attachments: []AttachmentRecord{
				{Name: "notes.pdf", Path: "videos/a/notes.pdf", Size: 128},
			},
		}},
		CreatedAt: time.Now(),
	}
	second := &PendingSubmissionRecord{
		BatchID:     "batch-2",
		CourseTitle: "Advanced Go",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.SavePendingSubmission(first))
	require.NoError(t, store.SavePendingSubmission(second))

	records, err := store.ListPendingSubmissions()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	loaded, ok, err := store.LoadPendingSubmission("batch-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Go From Scratch", loaded.CourseTitle)
	require.Len(t, loaded.Modules, 1)
	assert.Equal(t, "notes.pdf", loaded.Modules[0].Attachments[0].Name)

	require.NoError(t, store.ClearPendingSubmission("batch-1"))
	records, err = store.ListPendingSubmissions()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "batch-2", records[0].BatchID)
}

func TestListSkipsExpiredPendingSubmissions(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.SavePendingSubmission(&PendingSubmissionRecord{
		BatchID:   "batch-stale",
		CreatedAt: time.Now().Add(-RecordTTL - time.Hour),
	}))
	require.NoError(t, store.SavePendingSubmission(&PendingSubmissionRecord{
		BatchID:   "batch-fresh",
		CreatedAt: time.Now(),
	}))

	records, err := store.ListPendingSubmissions()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "batch-fresh", records[0].BatchID)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	store := newStore(t)

	record := &SessionRecord{UploadID: "upl-3", BytesUploaded: 100, CreatedAt: time.Now()}
	require.NoError(t, store.SaveSession("key-c", record))

	record.BytesUploaded = 200
	require.NoError(t, store.SaveSession("key-c", record))

	loaded, ok, err := store.LoadSession("key-c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(200), loaded.BytesUploaded)

	// No temp file is left behind after a committed write.
	matches, err := filepath.Glob(filepath.Join(store.dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

package uploader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducnh/coursereel/http/controller/dto"
)

func newTestOrchestrator(t *testing.T, api *fakeAPI, onProgress BatchProgressFunc) *BatchOrchestrator {
	t.Helper()
	store := newTestStore(t)
	sessions := NewSessionManager(api.client(), store, WithChunkedThreshold(2*api.chunkSize))
	sessions.sleep = noSleep
	return NewBatchOrchestrator(api.client(), store, sessions, onProgress)
}

func batchWithFiles(t *testing.T, api *fakeAPI) BatchInput {
	t.Helper()
	dir := t.TempDir()
	return BatchInput{
		CourseTitle: "Applied Networking",
		Email:       "instructor@example.com",
		Modules: []ModuleInput{
			{
				Title:           "Sockets",
				Video:           writeTempFile(t, dir, "sockets.mp4", 2*api.frameSize),
				DurationSeconds: 900,
				SubVideos:       []*LocalFile{writeTempFile(t, dir, "sockets-lab.mp4", api.frameSize)},
				Attachments:     []*LocalFile{writeTempFile(t, dir, "slides.pdf", api.frameSize)},
			},
			{
				Title:           "Routing",
				Video:           writeTempFile(t, dir, "routing.mp4", 3*api.frameSize),
				DurationSeconds: 1200,
			},
		},
	}
}

func TestBatchSubmitsSequentiallyAndFinalizes(t *testing.T) {
	api := newFakeAPI(t)

	var updates []BatchProgress
	o := newTestOrchestrator(t, api, func(p BatchProgress) { updates = append(updates, p) })
	batch := batchWithFiles(t, api)

	result, err := o.SubmitBatch(context.Background(), batch)
	require.NoError(t, err)

	assert.NotEmpty(t, result.CourseID)
	assert.False(t, result.Replayed)
	assert.Equal(t, 1, api.finalizeCalls)

	// Four files total, one at a time; the final report shows all done.
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, 4, last.TotalCount)
	assert.Equal(t, 4, last.UploadedCount)
	assert.InDelta(t, 100, last.ActivePercent, 0.01)

	// The pending record is gone once finalize succeeds.
	records, err := o.store.ListPendingSubmissions()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBatchFinalizeOrderKeepsSubVideosBeforeAttachments(t *testing.T) {
	api := newFakeAPI(t)
	o := newTestOrchestrator(t, api, nil)
	batch := batchWithFiles(t, api)

	_, err := o.SubmitBatch(context.Background(), batch)
	require.NoError(t, err)

	require.NotNil(t, api.lastFinalize)
	require.Len(t, api.lastFinalize.Modules, 2)

	first := api.lastFinalize.Modules[0]
	assert.Equal(t, "Sockets", first.Title)
	assert.Equal(t, int64(900), first.DurationSeconds)
	require.Len(t, first.Attachments, 2)
	assert.Equal(t, "sockets-lab.mp4", first.Attachments[0].Name)
	assert.Equal(t, "slides.pdf", first.Attachments[1].Name)

	second := api.lastFinalize.Modules[1]
	assert.Equal(t, "Routing", second.Title)
	assert.Empty(t, second.Attachments)
}

func TestBatchPreflightBlocksBeforeAnyUpload(t *testing.T) {
	api := newFakeAPI(t)
	api.health = &dto.HealthResponse{
		Dependencies:  map[string]string{"database": "ok", "storage": "fail", "queue": "ok"},
		ReadyForBatch: false,
	}

	o := newTestOrchestrator(t, api, nil)
	batch := batchWithFiles(t, api)

	_, err := o.SubmitBatch(context.Background(), batch)
	require.Error(t, err)

	var pfErr *PreflightError
	require.ErrorAs(t, err, &pfErr)
	assert.Contains(t, pfErr.Failures, "storage")

	assert.Zero(t, api.putCalls, "no byte may move when pre-flight fails")
	assert.Zero(t, api.patchCalls)
	assert.Zero(t, api.finalizeCalls)
}

func TestBatchFailedFileAbortsWithFileName(t *testing.T) {
	api := newFakeAPI(t)
	api.putFailures[1] = 10 // chunk 1 never succeeds

	o := newTestOrchestrator(t, api, nil)
	dir := t.TempDir()
	batch := BatchInput{
		CourseTitle: "Half a Course",
		Email:       "instructor@example.com",
		Modules: []ModuleInput{
			{Title: "Intro", Video: writeTempFile(t, dir, "intro.mp4", 2*api.frameSize)},
			{Title: "Deep Dive", Video: writeTempFile(t, dir, "deep-dive.mp4", 3*api.chunkSize)},
		},
	}

	_, err := o.SubmitBatch(context.Background(), batch)
	require.Error(t, err)

	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "deep-dive.mp4", upErr.FileName)

	assert.Zero(t, api.finalizeCalls, "finalize must not run for a partial batch")
	records, listErr := o.store.ListPendingSubmissions()
	require.NoError(t, listErr)
	assert.Empty(t, records, "no pending record exists before all uploads finish")
}

func TestBatchFinalizeFailurePreservesUploadsForReplay(t *testing.T) {
	api := newFakeAPI(t)
	api.finalizeFails = 1

	o := newTestOrchestrator(t, api, nil)
	batch := batchWithFiles(t, api)

	_, err := o.SubmitBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Equal(t, 1, api.finalizeCalls)

	// The uploads survived the finalize failure on disk.
	records, listErr := o.store.ListPendingSubmissions()
	require.NoError(t, listErr)
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].LastError)
	assert.Len(t, records[0].Modules, 2)

	putsBefore, patchesBefore := api.putCalls, api.patchCalls

	result, err := o.ResumePending(context.Background(), records[0].BatchID)
	require.NoError(t, err)
	assert.NotEmpty(t, result.CourseID)
	assert.Equal(t, records[0].BatchID, result.BatchID)

	assert.Equal(t, 2, api.finalizeCalls)
	assert.Equal(t, putsBefore, api.putCalls, "replay must not re-upload anything")
	assert.Equal(t, patchesBefore, api.patchCalls)

	records, listErr = o.store.ListPendingSubmissions()
	require.NoError(t, listErr)
	assert.Empty(t, records, "successful replay clears the pending record")
}

func TestBatchRejectsEmptyInput(t *testing.T) {
	api := newFakeAPI(t)
	o := newTestOrchestrator(t, api, nil)

	_, err := o.SubmitBatch(context.Background(), BatchInput{CourseTitle: "Empty"})
	require.Error(t, err)
	assert.Zero(t, api.finalizeCalls)
}

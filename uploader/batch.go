package uploader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ducnh/coursereel/http/controller/dto"
	"github.com/ducnh/coursereel/uploader/statestore"
)

// ModuleInput is one module of a batch before upload: the primary video,
// then sub-videos, then non-video attachments, uploaded in that order.
type ModuleInput struct {
	Title           string
	Video           *LocalFile
	DurationSeconds int64
	SubVideos       []*LocalFile
	Attachments     []*LocalFile
}

// BatchInput is everything needed to submit one course
type BatchInput struct {
	CourseTitle string
	Email       string
	Modules     []ModuleInput
}

// BatchProgress is the aggregate view across a batch: how many files are
// done plus the active file's own progress.
type BatchProgress struct {
	UploadedCount int
	TotalCount    int
	ActiveFile    string
	ActivePercent float64
}

type BatchProgressFunc func(p BatchProgress)

// SubmissionResult identifies the created (or replayed) course
type SubmissionResult struct {
	CourseID string
	BatchID  string
	Replayed bool
}

// BatchOrchestrator uploads a whole course and finalizes it. Files move
// strictly one at a time; the pending-submission record written before
// finalize makes the finalize call replayable without re-uploading.
type BatchOrchestrator struct {
	client   *Client
	store    *statestore.Store
	sessions *SessionManager

	onProgress BatchProgressFunc

	// Reserved for future parallel batches; uploads stay sequential at 1.
	Concurrency int
}

func NewBatchOrchestrator(client *Client, store *statestore.Store, sessions *SessionManager, onProgress BatchProgressFunc) *BatchOrchestrator {
	return &BatchOrchestrator{
		client:      client,
		store:       store,
		sessions:    sessions,
		onProgress:  onProgress,
		Concurrency: 1,
	}
}

// SubmitBatch runs the full submission: pre-flight, sequential uploads,
// integrity check, pending record, finalize.
func (o *BatchOrchestrator) SubmitBatch(ctx context.Context, batch BatchInput) (*SubmissionResult, error) {
	if len(batch.Modules) == 0 {
		return nil, errors.New("batch has no modules")
	}

	if err := o.preflight(ctx); err != nil {
		return nil, err
	}

	pending := &statestore.PendingSubmissionRecord{
		BatchID:     uuid.New().String(),
		CourseTitle: batch.CourseTitle,
		Email:       batch.Email,
		CreatedAt:   time.Now(),
	}

	total := countFiles(batch)
	uploaded := 0

	for _, module := range batch.Modules {
		record, err := o.uploadModule(ctx, module, total, &uploaded)
		if err != nil {
			return nil, err
		}
		pending.Modules = append(pending.Modules, *record)
	}

	if err := o.integrityCheck(ctx, pending.Modules); err != nil {
		return nil, err
	}

	// The pending record must hit disk before finalize is attempted: if
	// finalize fails, the next attempt replays from this record and never
	// re-uploads.
	if err := o.store.SavePendingSubmission(pending); err != nil {
		return nil, fmt.Errorf("failed to persist pending submission: %w", err)
	}

	return o.finalize(ctx, pending)
}

// ResumePending replays the finalize call of a previously persisted
// submission. No upload operations are issued.
func (o *BatchOrchestrator) ResumePending(ctx context.Context, batchID string) (*SubmissionResult, error) {
	pending, ok, err := o.store.LoadPendingSubmission(batchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no pending submission for batch %s", batchID)
	}
	return o.finalize(ctx, pending)
}

// preflight blocks the batch before any byte moves when a hard dependency
// is down. A degraded database is a warning, not a blocker.
func (o *BatchOrchestrator) preflight(ctx context.Context) error {
	health, err := o.client.BatchHealth(ctx)
	if err != nil {
		return &PreflightError{Failures: []string{"health check unreachable: " + err.Error()}}
	}
	if health.ReadyForBatch {
		return nil
	}

	failures := make([]string, 0)
	for dep, status := range health.Dependencies {
		if status == "fail" {
			failures = append(failures, dep)
		}
	}
	return &PreflightError{Failures: failures}
}

func countFiles(batch BatchInput) int {
	total := 0
	for _, m := range batch.Modules {
		total += 1 + len(m.SubVideos) + len(m.Attachments)
	}
	return total
}

// uploadModule uploads the primary video, then sub-videos, then attachments
func (o *BatchOrchestrator) uploadModule(ctx context.Context, module ModuleInput, total int, uploaded *int) (*statestore.ModuleRecord, error) {
	location, err := o.uploadOne(ctx, module.Video, total, uploaded)
	if err != nil {
		return nil, err
	}

	record := &statestore.ModuleRecord{
		Title:           module.Title,
		VideoBucket:     location.Bucket,
		VideoPath:       location.Path,
		ManifestID:      location.ManifestID,
		DurationSeconds: module.DurationSeconds,
	}

	for _, sub := range module.SubVideos {
		subLoc, err := o.uploadOne(ctx, sub, total, uploaded)
		if err != nil {
			return nil, err
		}
		record.Attachments = append(record.Attachments, statestore.AttachmentRecord{
			Name: sub.Name,
			Path: subLoc.Path,
			Size: sub.Size,
		})
	}

	for _, att := range module.Attachments {
		attLoc, err := o.uploadOne(ctx, att, total, uploaded)
		if err != nil {
			return nil, err
		}
		record.Attachments = append(record.Attachments, statestore.AttachmentRecord{
			Name: att.Name,
			Path: attLoc.Path,
			Size: att.Size,
		})
	}

	return record, nil
}

func (o *BatchOrchestrator) uploadOne(ctx context.Context, file *LocalFile, total int, uploaded *int) (*RemoteLocation, error) {
	o.report(BatchProgress{
		UploadedCount: *uploaded,
		TotalCount:    total,
		ActiveFile:    file.Name,
	})

	base := o.sessions.onProgress
	location, err := o.sessions.UploadWithProgress(ctx, file, func(p Progress) {
		o.report(BatchProgress{
			UploadedCount: *uploaded,
			TotalCount:    total,
			ActiveFile:    file.Name,
			ActivePercent: p.Percent,
		})
		if base != nil {
			base(p)
		}
	})
	if err != nil {
		return nil, err
	}

	*uploaded++
	o.report(BatchProgress{
		UploadedCount: *uploaded,
		TotalCount:    total,
		ActiveFile:    file.Name,
		ActivePercent: 100,
	})
	return location, nil
}

// integrityCheck re-probes each uploaded video. An unreachable probe
// degrades to proceeding anyway; a video the server actively reports
// missing blocks its module.
func (o *BatchOrchestrator) integrityCheck(ctx context.Context, modules []statestore.ModuleRecord) error {
	for _, m := range modules {
		var err error
		if m.ManifestID != "" {
			err = o.client.ManifestExists(ctx, m.ManifestID)
		} else {
			_, err = o.client.StatObject(ctx, m.VideoBucket, m.VideoPath)
		}
		if err == nil {
			continue
		}

		var ae *apiError
		if errors.As(err, &ae) && ae.StatusCode == 404 {
			return fmt.Errorf("module %q video failed integrity check: %w", m.Title, err)
		}
		// Probe outage, not an active verdict: proceed with a degraded check
	}
	return nil
}

// finalize calls the finalize endpoint from a pending record, clearing the
// record on success and annotating it with the failure otherwise.
func (o *BatchOrchestrator) finalize(ctx context.Context, pending *statestore.PendingSubmissionRecord) (*SubmissionResult, error) {
	req := dto.FinalizeCourseRequest{
		BatchID: pending.BatchID,
		Title:   pending.CourseTitle,
		Email:   pending.Email,
	}
	for _, m := range pending.Modules {
		module := dto.FinalizeModule{
			Title:           m.Title,
			VideoBucket:     m.VideoBucket,
			VideoPath:       m.VideoPath,
			ManifestID:      m.ManifestID,
			DurationSeconds: m.DurationSeconds,
		}
		for _, a := range m.Attachments {
			module.Attachments = append(module.Attachments, dto.FinalizeAttachment{
				Name: a.Name,
				Path: a.Path,
				Size: a.Size,
			})
		}
		req.Modules = append(req.Modules, module)
	}

	resp, err := o.client.FinalizeCourse(ctx, req)
	if err != nil {
		pending.LastError = err.Error()
		_ = o.store.SavePendingSubmission(pending)
		return nil, fmt.Errorf("finalize failed for batch %s (uploads preserved for retry): %w", pending.BatchID, err)
	}

	_ = o.store.ClearPendingSubmission(pending.BatchID)

	return &SubmissionResult{
		CourseID: resp.CourseID,
		BatchID:  resp.BatchID,
		Replayed: resp.Replayed,
	}, nil
}

func (o *BatchOrchestrator) report(p BatchProgress) {
	if o.onProgress != nil {
		o.onProgress(p)
	}
}

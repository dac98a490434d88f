package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ducnh/coursereel/entity"
	"github.com/ducnh/coursereel/infra"
)

// runTranscribe drives the transcription step through the same submit/poll
// shape as extraction.
func (c *PipelineConsumer) runTranscribe(ctx context.Context, entry *entity.ProcessingQueueEntry) error {
	module, err := c.repository.CourseRepo.FindModule(entry.ModuleID)
	if err != nil {
		return fmt.Errorf("failed to load module: %w", err)
	}

	videoURL, err := c.videoSourceURL(ctx, module)
	if err != nil {
		return fmt.Errorf("failed to resolve video source: %w", err)
	}

	c.beat(ctx, entry, transcribeProgressFloor)

	jobID, err := c.infra.Transcription.SubmitJob(ctx, videoURL)
	if err != nil {
		return fmt.Errorf("failed to submit transcription job: %w", err)
	}

	if err := c.repository.QueueRepo.MarkAwaitingExternal(entry.ID); err != nil {
		return fmt.Errorf("failed to mark entry awaiting external: %w", err)
	}

	c.infra.Logger.InfoWithContextf(ctx, "[Pipeline Consumer] Transcription job %s submitted for module %s", jobID, module.ID)

	status, err := c.pollTranscription(ctx, entry, module, jobID)
	if err != nil {
		return err
	}

	if err := c.repository.CourseRepo.SetModuleTranscript(module.ID, status.TranscriptPath); err != nil {
		return fmt.Errorf("failed to store transcript path: %w", err)
	}

	c.infra.Logger.InfoWithContextf(ctx, "[Pipeline Consumer] Transcription finished for module %s: %s", module.ID, status.TranscriptPath)

	return c.advanceToStep(ctx, entry, entity.NextStep(entry.StepName))
}

func (c *PipelineConsumer) pollTranscription(ctx context.Context, entry *entity.ProcessingQueueEntry, module *entity.CourseModule, jobID string) (*infra.TranscriptionJobStatus, error) {
	interval := time.Duration(c.config.EnvConfig.Pipeline.PollIntervalSecs) * time.Second
	ceiling := time.Duration(c.config.EnvConfig.Pipeline.ExtractTimeout) * time.Minute
	started := time.Now()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		elapsed := time.Since(started)
		if elapsed > ceiling {
			return nil, fmt.Errorf("transcription job %s exceeded %s processing ceiling", jobID, ceiling)
		}

		c.beat(ctx, entry, transcriptionPercent(elapsed, module.DurationSeconds))

		status, err := c.infra.Transcription.PollJob(ctx, jobID)
		if err != nil {
			c.infra.Logger.WarningWithContextf(ctx, "[Pipeline Consumer] Transcription poll failed for job %s: %v", jobID, err)
			continue
		}

		switch status.Status {
		case "completed":
			return status, nil
		case "failed":
			return nil, fmt.Errorf("transcription job %s failed: %s", jobID, status.Error)
		}
	}
}

func transcriptionPercent(elapsed time.Duration, durationSeconds int64) int {
	expected := time.Duration(durationSeconds/4) * time.Second
	if expected < 2*time.Minute {
		expected = 2 * time.Minute
	}

	span := transcribeProgressCeil - transcribeProgressFloor
	percent := transcribeProgressFloor + int(float64(span)*float64(elapsed)/float64(expected))
	if percent >= transcribeProgressCeil {
		percent = transcribeProgressCeil - 1
	}
	if percent < transcribeProgressFloor {
		percent = transcribeProgressFloor
	}
	return percent
}

// runAnalyze is the final step: a synchronous call against the already
// extracted artifacts, then module completion. When the whole course is done
// the author gets a mail.
func (c *PipelineConsumer) runAnalyze(ctx context.Context, entry *entity.ProcessingQueueEntry) error {
	module, err := c.repository.CourseRepo.FindModule(entry.ModuleID)
	if err != nil {
		return fmt.Errorf("failed to load module: %w", err)
	}

	if module.FrameCount == 0 {
		return fmt.Errorf("module %s has no frames to analyze", module.ID)
	}

	c.beat(ctx, entry, analyzeProgressFloor)

	var frames []string
	if len(module.Frames) > 0 {
		if err := json.Unmarshal(module.Frames, &frames); err != nil {
			return fmt.Errorf("failed to decode frame list: %w", err)
		}
	}

	if _, err := c.infra.Analysis.Analyze(ctx, infra.AnalysisRequest{
		ModuleID:       module.ID.String(),
		Title:          module.Title,
		Frames:         frames,
		TranscriptPath: module.TranscriptPath,
	}); err != nil {
		return fmt.Errorf("failed to analyze module: %w", err)
	}

	if err := c.advanceToStep(ctx, entry, entity.NextStep(entry.StepName)); err != nil {
		return err
	}

	if err := c.repository.CourseRepo.UpdateModuleProcessing(module.ID, entity.ModuleStatusCompleted, 100, entry.StepName); err != nil {
		return fmt.Errorf("failed to complete module: %w", err)
	}
	c.refreshProgressCache(ctx, module.ID)

	c.infra.Logger.InfoWithContextf(ctx, "[Pipeline Consumer] Module %s completed", module.ID)

	c.notifyIfCourseReady(ctx, module.CourseID)
	return nil
}

// notifyIfCourseReady sends the course-ready mail once the last module of a
// course completes. Best effort: a failed mail never fails the pipeline.
func (c *PipelineConsumer) notifyIfCourseReady(ctx context.Context, courseID uuid.UUID) {
	course, err := c.repository.CourseRepo.FindWithModules(courseID)
	if err != nil || course == nil {
		return
	}

	for _, m := range course.Modules {
		if m.Status != entity.ModuleStatusCompleted {
			return
		}
	}

	if err := c.infra.Notify.SendCourseReady(ctx, course.Email, course.Title); err != nil {
		c.infra.Logger.WarningWithContextf(ctx, "[Pipeline Consumer] Course-ready mail for %s not sent: %v", course.ID, err)
	}
}

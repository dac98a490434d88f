package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/ducnh/coursereel/entity"
	"github.com/ducnh/coursereel/infra"
	"github.com/ducnh/coursereel/utils"
)

// Progress bands per pipeline step, so one module shows a single monotonic
// percentage across the whole pipeline.
const (
	extractProgressFloor = 5
	extractProgressCeil  = 60

	transcribeProgressFloor = 60
	transcribeProgressCeil  = 90

	analyzeProgressFloor = 95
)

// runExtract drives the frame-extraction step: resolve how the external
// service gets the video bytes, submit the job, then poll until it reports a
// terminal state, refreshing heartbeats on every tick.
func (c *PipelineConsumer) runExtract(ctx context.Context, entry *entity.ProcessingQueueEntry) error {
	module, err := c.repository.CourseRepo.FindModule(entry.ModuleID)
	if err != nil {
		return fmt.Errorf("failed to load module: %w", err)
	}

	videoURL, err := c.videoSourceURL(ctx, module)
	if err != nil {
		return fmt.Errorf("failed to resolve video source: %w", err)
	}

	c.beat(ctx, entry, extractProgressFloor)

	jobID, err := c.infra.Extraction.SubmitJob(ctx, videoURL)
	if err != nil {
		return fmt.Errorf("failed to submit extraction job: %w", err)
	}

	if err := c.repository.QueueRepo.MarkAwaitingExternal(entry.ID); err != nil {
		return fmt.Errorf("failed to mark entry awaiting external: %w", err)
	}

	c.infra.Logger.InfoWithContextf(ctx, "[Pipeline Consumer] Extraction job %s submitted for module %s", jobID, module.ID)

	status, err := c.pollExtraction(ctx, entry, module, jobID)
	if err != nil {
		return err
	}

	frames, err := json.Marshal(status.Frames)
	if err != nil {
		return fmt.Errorf("failed to encode frame list: %w", err)
	}
	if err := c.repository.CourseRepo.SetModuleFrames(module.ID, frames, len(status.Frames)); err != nil {
		return fmt.Errorf("failed to store frames: %w", err)
	}

	c.infra.Logger.InfoWithContextf(ctx, "[Pipeline Consumer] Extraction finished for module %s: %d frames", module.ID, len(status.Frames))

	return c.advanceToStep(ctx, entry, entity.NextStep(entry.StepName))
}

// pollExtraction watches an extraction job until it completes, fails, or
// exceeds the processing ceiling. Poll errors are tolerated; the job is
// simply observed again on the next tick.
func (c *PipelineConsumer) pollExtraction(ctx context.Context, entry *entity.ProcessingQueueEntry, module *entity.CourseModule, jobID string) (*infra.ExtractionJobStatus, error) {
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
			return nil, fmt.Errorf("extraction job %s exceeded %s processing ceiling", jobID, ceiling)
		}

		c.beat(ctx, entry, extractionPercent(elapsed, module.DurationSeconds))

		status, err := c.infra.Extraction.PollJob(ctx, jobID)
		if err != nil {
			c.infra.Logger.WarningWithContextf(ctx, "[Pipeline Consumer] Extraction poll failed for job %s: %v", jobID, err)
			continue
		}

		switch status.Status {
		case "completed":
			return status, nil
		case "failed":
			return nil, fmt.Errorf("extraction job %s failed: %s", jobID, status.Error)
		}
	}
}

// extractionPercent estimates progress from elapsed wall time against the
// expected processing time for a video of this length. The estimate never
// reaches the ceiling; only completion does.
func extractionPercent(elapsed time.Duration, durationSeconds int64) int {
	expected := time.Duration(durationSeconds/2) * time.Second
	if expected < 2*time.Minute {
		expected = 2 * time.Minute
	}

	span := extractProgressCeil - extractProgressFloor
	percent := extractProgressFloor + int(float64(span)*float64(elapsed)/float64(expected))
	if percent >= extractProgressCeil {
		percent = extractProgressCeil - 1
	}
	if percent < extractProgressFloor {
		percent = extractProgressFloor
	}
	return percent
}

// videoSourceURL gives the external service a way to read the video bytes:
// a presigned GET for single objects, the manifest stream endpoint for
// videos that exist only as a chunk set.
func (c *PipelineConsumer) videoSourceURL(ctx context.Context, module *entity.CourseModule) (string, error) {
	expiry := time.Duration(c.config.EnvConfig.Pipeline.ExtractTimeout) * time.Minute

	if module.ManifestID != nil {
		if _, err := c.repository.ManifestRepo.FindByID(*module.ManifestID); err != nil {
			return "", fmt.Errorf("manifest %s not found: %w", module.ManifestID, err)
		}
		token, err := utils.SignManifestToken(module.ManifestID.String(), expiry, c.config.EnvConfig)
		if err != nil {
			return "", fmt.Errorf("failed to sign manifest token: %w", err)
		}
		scheme := "https"
		if c.config.EnvConfig.Environment.Mode == "development" {
			scheme = "http"
		}
		return fmt.Sprintf("%s://%s/api/v1/coursereel/manifests/%s/stream?token=%s",
			scheme, c.config.EnvConfig.DomainName, module.ManifestID, url.QueryEscape(token)), nil
	}

	url, err := c.infra.Minio.PresignedGetURL(ctx, module.VideoBucket, module.VideoPath, expiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign video object: %w", err)
	}
	return url, nil
}

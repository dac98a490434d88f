package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ducnh/coursereel/config"
	"github.com/ducnh/coursereel/entity"
	"github.com/ducnh/coursereel/infra"
	"github.com/ducnh/coursereel/infra/produce"
	"github.com/ducnh/coursereel/repository"
)

// PipelineConsumer drives the processing pipeline. It is woken by queue
// messages but the database rows remain the source of truth: a second
// poll loop sweeps for pending entries whose wake-up was lost.
type PipelineConsumer struct {
	channel    *amqp.Channel
	config     *config.Config
	infra      *infra.Infra
	repository *repository.Repository
	workerID   string

	run func(ctx context.Context, entry *entity.ProcessingQueueEntry)
}

func NewPipelineConsumer(channel *amqp.Channel, cfg *config.Config, infra *infra.Infra, repo *repository.Repository) *PipelineConsumer {
	hostname, _ := os.Hostname()
	c := &PipelineConsumer{
		channel:    channel,
		config:     cfg,
		infra:      infra,
		repository: repo,
		workerID:   fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
	}
	c.run = c.dispatch
	return c
}

// launch starts a claimed entry without blocking the caller. The consumer
// and poll loops must keep servicing other entries while a step runs; an
// extraction step can legally run for hours.
func (c *PipelineConsumer) launch(ctx context.Context, entry *entity.ProcessingQueueEntry) {
	go c.run(ctx, entry)
}

func (c *PipelineConsumer) Start(ctx context.Context) error {
	if err := c.startStepQueuedConsumer(ctx); err != nil {
		return fmt.Errorf("failed to start step queued consumer: %w", err)
	}
	go c.pollLoop(ctx)
	return nil
}

func (c *PipelineConsumer) startStepQueuedConsumer(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		produce.StepQueuedQueue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register step queued consumer: %w", err)
	}

	c.infra.Logger.InfoWithContextf(ctx, "[Pipeline Consumer] Worker %s listening on queue: %s", c.workerID, produce.StepQueuedQueue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.infra.Logger.InfoWithContextf(ctx, "[Pipeline Consumer] Shutting down...")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.infra.Logger.WarningWithContextf(ctx, "[Pipeline Consumer] Channel closed")
					return
				}
				c.handleStepQueued(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *PipelineConsumer) handleStepQueued(ctx context.Context, msg amqp.Delivery) {
	var payload produce.StepQueuedMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Pipeline Consumer] Failed to unmarshal message")
		_ = msg.Nack(false, false)
		return
	}

	entryID, err := uuid.Parse(payload.EntryID)
	if err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Pipeline Consumer] Invalid entry ID")
		_ = msg.Nack(false, false)
		return
	}

	claimed, err := c.repository.QueueRepo.Claim(entryID, c.workerID)
	if err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Pipeline Consumer] Claim failed for entry %s", entryID)
		_ = msg.Nack(false, true)
		return
	}
	if !claimed {
		// Another worker got it first, or the entry is not pending yet
		_ = msg.Ack(false)
		return
	}

	entry, err := c.repository.QueueRepo.FindByID(entryID)
	if err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Pipeline Consumer] Claimed entry %s vanished", entryID)
		_ = msg.Ack(false)
		return
	}

	// Ack before the step runs: the claimed row is the lock, and a long
	// step would blow past the broker's ack deadline and kill the channel.
	_ = msg.Ack(false)

	// Message context ends with the delivery; the step runs on its own
	c.launch(context.Background(), entry)
}

// pollLoop claims pending entries the message bus never announced, such as
// entries reset by the watchdog long after their original message was
// consumed.
func (c *PipelineConsumer) pollLoop(ctx context.Context) {
	interval := time.Duration(c.config.EnvConfig.Pipeline.PollIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				entry, err := c.repository.QueueRepo.ClaimNextPending(c.workerID)
				if err != nil {
					c.infra.Logger.ErrorWithContextf(ctx, err, "[Pipeline Consumer] Pending sweep failed")
					break
				}
				if entry == nil {
					break
				}
				c.launch(ctx, entry)
			}
		}
	}
}

func (c *PipelineConsumer) dispatch(ctx context.Context, entry *entity.ProcessingQueueEntry) {
	c.infra.Logger.InfoWithContextf(ctx, "[Pipeline Consumer] Worker %s running step %s for module %s (attempt %d/%d)",
		c.workerID, entry.StepName, entry.ModuleID, entry.AttemptCount, entry.MaxAttempts)

	var err error
	switch entry.StepName {
	case entity.StepExtractFrames:
		err = c.runExtract(ctx, entry)
	case entity.StepTranscribe:
		err = c.runTranscribe(ctx, entry)
	case entity.StepAnalyze:
		err = c.runAnalyze(ctx, entry)
	default:
		err = fmt.Errorf("unknown pipeline step %q", entry.StepName)
	}

	if err != nil {
		c.handleStepFailure(ctx, entry, err)
	}
}

// handleStepFailure either schedules a retry with doubling delay or, once
// attempts are exhausted, fails the entry and resolves the module state.
func (c *PipelineConsumer) handleStepFailure(ctx context.Context, entry *entity.ProcessingQueueEntry, stepErr error) {
	c.infra.Logger.ErrorWithContextf(ctx, stepErr, "[Pipeline Consumer] Step %s failed for module %s (attempt %d/%d)",
		entry.StepName, entry.ModuleID, entry.AttemptCount, entry.MaxAttempts)

	if entry.AttemptCount < entry.MaxAttempts {
		backoff := time.Duration(1<<uint(entry.AttemptCount)) * time.Minute
		if err := c.repository.QueueRepo.ResetToPending(entry.ID, backoff); err != nil {
			c.infra.Logger.ErrorWithContextf(ctx, err, "[Pipeline Consumer] Failed to requeue entry %s", entry.ID)
		}
		return
	}

	if err := c.repository.QueueRepo.Fail(entry.ID, stepErr.Error()); err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Pipeline Consumer] Failed to mark entry %s failed", entry.ID)
	}
	c.resolveModuleFailure(ctx, entry, stepErr)
}

// resolveModuleFailure marks the module failed, or partial-ready when an
// earlier step already produced usable artifacts.
func (c *PipelineConsumer) resolveModuleFailure(ctx context.Context, entry *entity.ProcessingQueueEntry, stepErr error) {
	module, err := c.repository.CourseRepo.FindModule(entry.ModuleID)
	if err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Pipeline Consumer] Module %s not found while failing", entry.ModuleID)
		return
	}

	if module.FrameCount > 0 && entry.StepName != entity.StepExtractFrames {
		if err := c.repository.CourseRepo.UpdateModuleProcessing(module.ID, entity.ModuleStatusPartialReady, module.ProgressPercent, entry.StepName); err != nil {
			c.infra.Logger.ErrorWithContextf(ctx, err, "[Pipeline Consumer] Failed to mark module %s partial-ready", module.ID)
		}
	} else {
		if err := c.repository.CourseRepo.MarkModuleFailed(module.ID, stepErr.Error()); err != nil {
			c.infra.Logger.ErrorWithContextf(ctx, err, "[Pipeline Consumer] Failed to mark module %s failed", module.ID)
		}
	}
	c.refreshProgressCache(ctx, module.ID)
}

// advanceToStep completes the current entry and enqueues the next step
func (c *PipelineConsumer) advanceToStep(ctx context.Context, entry *entity.ProcessingQueueEntry, nextStep string) error {
	if err := c.repository.QueueRepo.Complete(entry.ID); err != nil {
		return fmt.Errorf("failed to complete entry: %w", err)
	}

	if nextStep == "" {
		return nil
	}

	next := &entity.ProcessingQueueEntry{
		ID:          uuid.New(),
		ModuleID:    entry.ModuleID,
		StepName:    nextStep,
		Status:      entity.StepStatusPending,
		MaxAttempts: c.config.EnvConfig.Pipeline.MaxAttempts,
		NextRetryAt: time.Now(),
	}
	if err := c.repository.QueueRepo.Enqueue(next); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", nextStep, err)
	}

	if err := c.infra.Produce.Pipeline.PublishStepQueued(ctx, produce.StepQueuedMessage{
		EntryID:   next.ID.String(),
		ModuleID:  entry.ModuleID.String(),
		StepName:  nextStep,
		Timestamp: time.Now().Unix(),
	}); err != nil {
		// The poll loop will pick the entry up anyway
		c.infra.Logger.WarningWithContextf(ctx, "[Pipeline Consumer] Step nudge for %s not published: %v", entry.ModuleID, err)
	}
	return nil
}

// beat refreshes both the queue-entry heartbeat and the module projection
func (c *PipelineConsumer) beat(ctx context.Context, entry *entity.ProcessingQueueEntry, percent int) {
	if err := c.repository.QueueRepo.Heartbeat(entry.ID); err != nil {
		c.infra.Logger.WarningWithContextf(ctx, "[Pipeline Consumer] Heartbeat failed for entry %s: %v", entry.ID, err)
	}
	if err := c.repository.CourseRepo.TouchModuleHeartbeat(entry.ModuleID); err != nil {
		c.infra.Logger.WarningWithContextf(ctx, "[Pipeline Consumer] Module heartbeat failed for %s: %v", entry.ModuleID, err)
	}
	if err := c.repository.CourseRepo.UpdateModuleProcessing(entry.ModuleID, entity.ModuleStatusProcessing, percent, entry.StepName); err != nil {
		c.infra.Logger.WarningWithContextf(ctx, "[Pipeline Consumer] Progress update failed for %s: %v", entry.ModuleID, err)
	}
	c.refreshProgressCache(ctx, entry.ModuleID)
}

func (c *PipelineConsumer) refreshProgressCache(ctx context.Context, moduleID uuid.UUID) {
	module, err := c.repository.CourseRepo.FindModule(moduleID)
	if err != nil {
		return
	}
	progress := infra.ModuleProgress{
		Status:          string(module.Status),
		ProgressPercent: module.ProgressPercent,
		ProgressStep:    module.ProgressStep,
	}
	if module.LastHeartbeatAt != nil {
		progress.LastHeartbeatAt = *module.LastHeartbeatAt
	}
	if err := c.infra.Redis.SetModuleProgress(ctx, moduleID.String(), progress); err != nil {
		c.infra.Logger.WarningWithContextf(ctx, "[Pipeline Consumer] Progress cache write failed for %s: %v", moduleID, err)
	}
}

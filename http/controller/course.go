package controller

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/ducnh/coursereel/entity"
	"github.com/ducnh/coursereel/http/controller/dto"
	"github.com/ducnh/coursereel/infra"
	"github.com/ducnh/coursereel/infra/produce"
	"github.com/ducnh/coursereel/utils"
)

// FinalizeCourse creates the course record once every upload of the batch has
// landed, and enqueues the first pipeline step for each module. The batch id
// is the idempotency key: replaying the call returns the already-created
// course without enqueueing anything twice.
func (ctrl *Controller) FinalizeCourse(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.FinalizeCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSON400(c, "Invalid request: "+err.Error())
		return
	}

	batchID, err := uuid.Parse(req.BatchID)
	if err != nil {
		utils.JSON400(c, "Invalid batch_id format")
		return
	}

	existing, err := ctrl.Repository.CourseRepo.FindByBatchID(batchID)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Course] Batch lookup failed for %s", batchID)
		utils.JSON500(c, "Failed to check batch")
		return
	}
	if existing != nil {
		moduleIDs := make([]string, 0, len(existing.Modules))
		for _, m := range existing.Modules {
			moduleIDs = append(moduleIDs, m.ID.String())
		}
		ctrl.Infra.Logger.InfoWithContextf(ctx, "[Course] Replayed finalize for batch %s -> course %s", batchID, existing.ID)
		utils.JSON200(c, dto.FinalizeCourseResponse{
			CourseID:  existing.ID.String(),
			BatchID:   batchID.String(),
			ModuleIDs: moduleIDs,
			Replayed:  true,
		})
		return
	}

	course := &entity.Course{
		ID:      uuid.New(),
		BatchID: batchID,
		Title:   req.Title,
		Email:   req.Email,
		Modules: make([]entity.CourseModule, 0, len(req.Modules)),
	}

	for i, mod := range req.Modules {
		module := entity.CourseModule{
			ID:              uuid.New(),
			CourseID:        course.ID,
			Title:           mod.Title,
			Position:        i,
			VideoBucket:     mod.VideoBucket,
			VideoPath:       mod.VideoPath,
			DurationSeconds: mod.DurationSeconds,
			Status:          entity.ModuleStatusQueued,
		}

		if mod.ManifestID != "" {
			manifestID, err := uuid.Parse(mod.ManifestID)
			if err != nil {
				utils.JSON400(c, "Invalid manifest_id on module '"+mod.Title+"'")
				return
			}
			if _, err := ctrl.Repository.ManifestRepo.FindByID(manifestID); err != nil {
				utils.JSON400(c, "Unknown manifest on module '"+mod.Title+"'")
				return
			}
			module.ManifestID = &manifestID
		} else {
			if mod.VideoPath == "" {
				utils.JSON400(c, "Module '"+mod.Title+"' needs a video_path or manifest_id")
				return
			}
			// Single-object video: confirm it actually exists before
			// accepting the batch.
			if _, err := ctrl.Infra.Minio.StatObject(ctx, mod.VideoBucket, mod.VideoPath); err != nil {
				utils.JSON400(c, "Video object missing for module '"+mod.Title+"'")
				return
			}
		}

		if len(mod.Attachments) > 0 {
			attachments := make([]entity.ModuleAttachment, 0, len(mod.Attachments))
			for _, a := range mod.Attachments {
				attachments = append(attachments, entity.ModuleAttachment{Name: a.Name, Path: a.Path, Size: a.Size})
			}
			raw, err := json.Marshal(attachments)
			if err != nil {
				utils.JSON500(c, "Failed to encode attachments")
				return
			}
			module.Attachments = datatypes.JSON(raw)
		}

		course.Modules = append(course.Modules, module)
	}

	if err := ctrl.Repository.CourseRepo.CreateWithModules(course); err != nil {
		// A concurrent finalize with the same batch id may have won the
		// unique index race; replay it.
		if winner, findErr := ctrl.Repository.CourseRepo.FindByBatchID(batchID); findErr == nil && winner != nil {
			moduleIDs := make([]string, 0, len(winner.Modules))
			for _, m := range winner.Modules {
				moduleIDs = append(moduleIDs, m.ID.String())
			}
			utils.JSON200(c, dto.FinalizeCourseResponse{
				CourseID:  winner.ID.String(),
				BatchID:   batchID.String(),
				ModuleIDs: moduleIDs,
				Replayed:  true,
			})
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Course] Failed to create course for batch %s", batchID)
		utils.JSON500(c, "Failed to create course")
		return
	}

	moduleIDs := make([]string, 0, len(course.Modules))
	for _, m := range course.Modules {
		moduleIDs = append(moduleIDs, m.ID.String())
		ctrl.enqueueStep(c, m.ID, entity.StepExtractFrames)
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Course] Created course %s for batch %s with %d modules",
		course.ID, batchID, len(course.Modules))

	utils.JSON201(c, dto.FinalizeCourseResponse{
		CourseID:  course.ID.String(),
		BatchID:   batchID.String(),
		ModuleIDs: moduleIDs,
		Replayed:  false,
	})
}

// enqueueStep inserts a pending queue entry for a module step and nudges the
// workers over the message bus. The queue row is the source of truth; a lost
// nudge is recovered by the workers' poll loop.
func (ctrl *Controller) enqueueStep(c *gin.Context, moduleID uuid.UUID, step string) {
	ctx := c.Request.Context()

	entry := &entity.ProcessingQueueEntry{
		ID:          uuid.New(),
		ModuleID:    moduleID,
		StepName:    step,
		Status:      entity.StepStatusPending,
		MaxAttempts: ctrl.Config.EnvConfig.Pipeline.MaxAttempts,
		NextRetryAt: time.Now(),
	}

	if err := ctrl.Repository.QueueRepo.Enqueue(entry); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Course] Failed to enqueue %s for module %s: %v", step, moduleID, err)
		return
	}

	if err := ctrl.Infra.Produce.Pipeline.PublishStepQueued(ctx, produce.StepQueuedMessage{
		EntryID:   entry.ID.String(),
		ModuleID:  moduleID.String(),
		StepName:  step,
		Timestamp: time.Now().Unix(),
	}); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Course] Step nudge for %s not published: %v", moduleID, err)
	}
}

// GetModuleProgress serves the processing projection, cache first
func (ctrl *Controller) GetModuleProgress(c *gin.Context) {
	ctx := c.Request.Context()

	moduleID, err := uuid.Parse(c.Param("module_id"))
	if err != nil {
		utils.JSON400(c, "Invalid module_id format")
		return
	}

	if cached, err := ctrl.Infra.Redis.GetModuleProgress(ctx, moduleID.String()); err == nil && cached != nil {
		resp := dto.ModuleProgressResponse{
			ModuleID:        moduleID.String(),
			Status:          cached.Status,
			ProgressPercent: cached.ProgressPercent,
			ProgressStep:    cached.ProgressStep,
		}
		if !cached.LastHeartbeatAt.IsZero() {
			resp.LastHeartbeatAt = cached.LastHeartbeatAt.Format(time.RFC3339)
		}
		utils.JSON200(c, resp)
		return
	}

	module, err := ctrl.Repository.CourseRepo.FindModule(moduleID)
	if err != nil {
		utils.JSON404(c, "Module not found")
		return
	}

	resp := dto.ModuleProgressResponse{
		ModuleID:        module.ID.String(),
		Status:          string(module.Status),
		ProgressPercent: module.ProgressPercent,
		ProgressStep:    module.ProgressStep,
	}
	progress := infra.ModuleProgress{
		Status:          string(module.Status),
		ProgressPercent: module.ProgressPercent,
		ProgressStep:    module.ProgressStep,
	}
	if module.LastHeartbeatAt != nil {
		resp.LastHeartbeatAt = module.LastHeartbeatAt.Format(time.RFC3339)
		progress.LastHeartbeatAt = *module.LastHeartbeatAt
	}
	if err := ctrl.Infra.Redis.SetModuleProgress(ctx, moduleID.String(), progress); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Course] Progress cache write failed for %s: %v", moduleID, err)
	}

	utils.JSON200(c, resp)
}

// RetryModule re-queues the most recent failed step with a fresh attempt
// budget. Used after the operator fixed whatever made the step exhaust its
// retries.
func (ctrl *Controller) RetryModule(c *gin.Context) {
	ctx := c.Request.Context()

	moduleID, err := uuid.Parse(c.Param("module_id"))
	if err != nil {
		utils.JSON400(c, "Invalid module_id format")
		return
	}
	module, err := ctrl.Repository.CourseRepo.FindModule(moduleID)
	if err != nil {
		utils.JSON404(c, "Module not found")
		return
	}
	if module.Status != entity.ModuleStatusFailed && module.Status != entity.ModuleStatusPartialReady {
		utils.JSON409(c, "module is not in a retryable state")
		return
	}

	entry := ctrl.latestFailedEntry(moduleID)
	if entry == nil {
		utils.JSON404(c, "no failed step to retry")
		return
	}

	if err := ctrl.Repository.QueueRepo.ResetAttempts(entry.ID); err != nil {
		utils.JSON500(c, "Failed to reset step attempts")
		return
	}
	if err := ctrl.Repository.QueueRepo.ResetToPending(entry.ID, 0); err != nil {
		utils.JSON500(c, "Failed to requeue step")
		return
	}
	_ = ctrl.Repository.CourseRepo.UpdateModuleProcessing(moduleID, entity.ModuleStatusQueued, module.ProgressPercent, entry.StepName)
	_ = ctrl.Infra.Redis.ClearModuleProgress(ctx, moduleID.String())
	ctrl.publishNudge(c, entry.ID, moduleID, entry.StepName)

	utils.JSON200(c, dto.PipelineActionResponse{
		ModuleID: moduleID.String(),
		Action:   "retry",
		Step:     entry.StepName,
		Message:  "step requeued with fresh attempts",
	})
}

// RepairModule resumes from the artifacts that already exist instead of
// re-running everything: a module with frames but no transcript resumes at
// transcription, one with a transcript resumes at analysis.
func (ctrl *Controller) RepairModule(c *gin.Context) {
	ctx := c.Request.Context()

	moduleID, err := uuid.Parse(c.Param("module_id"))
	if err != nil {
		utils.JSON400(c, "Invalid module_id format")
		return
	}
	module, err := ctrl.Repository.CourseRepo.FindModule(moduleID)
	if err != nil {
		utils.JSON404(c, "Module not found")
		return
	}
	if module.Status == entity.ModuleStatusCompleted {
		utils.JSON409(c, "module is already completed")
		return
	}

	step := entity.StepExtractFrames
	if module.FrameCount > 0 {
		step = entity.StepTranscribe
	}
	if module.TranscriptPath != "" {
		step = entity.StepAnalyze
	}

	ctrl.enqueueStep(c, moduleID, step)
	_ = ctrl.Repository.CourseRepo.UpdateModuleProcessing(moduleID, entity.ModuleStatusQueued, module.ProgressPercent, step)
	_ = ctrl.Infra.Redis.ClearModuleProgress(ctx, moduleID.String())

	utils.JSON200(c, dto.PipelineActionResponse{
		ModuleID: moduleID.String(),
		Action:   "repair",
		Step:     step,
		Message:  "pipeline resumed from existing artifacts",
	})
}

// KickstartModule enqueues the first step for a module that has no live queue
// entry at all, covering the case where finalize committed the course but the
// enqueue was lost.
func (ctrl *Controller) KickstartModule(c *gin.Context) {
	moduleID, err := uuid.Parse(c.Param("module_id"))
	if err != nil {
		utils.JSON400(c, "Invalid module_id format")
		return
	}
	module, err := ctrl.Repository.CourseRepo.FindModule(moduleID)
	if err != nil {
		utils.JSON404(c, "Module not found")
		return
	}
	if module.Status != entity.ModuleStatusQueued {
		utils.JSON409(c, "module already entered the pipeline")
		return
	}

	entries, err := ctrl.Repository.QueueRepo.FindByModule(moduleID)
	if err != nil {
		utils.JSON500(c, "Failed to inspect module queue")
		return
	}
	for _, e := range entries {
		if !e.Terminal() {
			utils.JSON409(c, "module already has a live queue entry")
			return
		}
	}

	ctrl.enqueueStep(c, moduleID, entity.StepExtractFrames)

	utils.JSON200(c, dto.PipelineActionResponse{
		ModuleID: moduleID.String(),
		Action:   "kickstart",
		Step:     entity.StepExtractFrames,
		Message:  "first pipeline step enqueued",
	})
}

// ResumeFailedModule puts a failed module back into the pipeline at the step
// its artifacts say it reached. The existing failed entry is reused when it
// matches that step so attempt history stays on one row.
func (ctrl *Controller) ResumeFailedModule(c *gin.Context) {
	ctx := c.Request.Context()

	moduleID, err := uuid.Parse(c.Param("module_id"))
	if err != nil {
		utils.JSON400(c, "Invalid module_id format")
		return
	}
	module, err := ctrl.Repository.CourseRepo.FindModule(moduleID)
	if err != nil {
		utils.JSON404(c, "Module not found")
		return
	}
	if module.Status != entity.ModuleStatusFailed {
		utils.JSON409(c, "module is not failed")
		return
	}

	step := entity.StepExtractFrames
	if module.FrameCount > 0 {
		step = entity.StepTranscribe
	}
	if module.TranscriptPath != "" {
		step = entity.StepAnalyze
	}

	entry, err := ctrl.Repository.QueueRepo.FindLatestForStep(moduleID, step)
	if err == nil && entry != nil && entry.Status == entity.StepStatusFailed {
		if err := ctrl.Repository.QueueRepo.ResetAttempts(entry.ID); err != nil {
			utils.JSON500(c, "Failed to reset step attempts")
			return
		}
		if err := ctrl.Repository.QueueRepo.ResetToPending(entry.ID, 0); err != nil {
			utils.JSON500(c, "Failed to requeue step")
			return
		}
		ctrl.publishNudge(c, entry.ID, moduleID, step)
	} else {
		ctrl.enqueueStep(c, moduleID, step)
	}

	_ = ctrl.Repository.CourseRepo.UpdateModuleProcessing(moduleID, entity.ModuleStatusQueued, module.ProgressPercent, step)
	_ = ctrl.Infra.Redis.ClearModuleProgress(ctx, moduleID.String())

	utils.JSON200(c, dto.PipelineActionResponse{
		ModuleID: moduleID.String(),
		Action:   "resume_failed",
		Step:     step,
		Message:  "failed module resumed",
	})
}

func (ctrl *Controller) latestFailedEntry(moduleID uuid.UUID) *entity.ProcessingQueueEntry {
	entries, err := ctrl.Repository.QueueRepo.FindByModule(moduleID)
	if err != nil {
		return nil
	}
	var latest *entity.ProcessingQueueEntry
	for i := range entries {
		if entries[i].Status != entity.StepStatusFailed {
			continue
		}
		if latest == nil || entries[i].UpdatedAt.After(latest.UpdatedAt) {
			latest = &entries[i]
		}
	}
	return latest
}

func (ctrl *Controller) publishNudge(c *gin.Context, entryID, moduleID uuid.UUID, step string) {
	ctx := c.Request.Context()
	if err := ctrl.Infra.Produce.Pipeline.PublishStepQueued(ctx, produce.StepQueuedMessage{
		EntryID:   entryID.String(),
		ModuleID:  moduleID.String(),
		StepName:  step,
		Timestamp: time.Now().Unix(),
	}); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Course] Step nudge for %s not published: %v", moduleID, err)
	}
}

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ducnh/coursereel/config"
	"github.com/ducnh/coursereel/entity"
	"github.com/ducnh/coursereel/infra"
	"github.com/ducnh/coursereel/repository"
)

// Staleness thresholds. Steps waiting on an external service get a base
// allowance plus extra time per hour of video beyond the first, since a
// three-hour lecture legitimately takes longer to process than a clip.
const (
	staleDefault      = 5 * time.Minute
	staleExternalBase = 30 * time.Minute
	staleExternalPerH = 10 * time.Minute
	staleExternalCap  = 60 * time.Minute
)

// Watchdog recovers pipeline entries whose worker died mid-step: stale
// processing rows go back to pending, entries out of attempts are failed,
// and expired upload sessions get their temp chunks swept.
type Watchdog struct {
	config     *config.Config
	infra      *infra.Infra
	repository *repository.Repository
	cron       *cron.Cron
}

func NewWatchdog(cfg *config.Config, infra *infra.Infra, repo *repository.Repository) *Watchdog {
	return &Watchdog{
		config:     cfg,
		infra:      infra,
		repository: repo,
		cron:       cron.New(),
	}
}

func (w *Watchdog) Start(ctx context.Context) error {
	spec := w.config.EnvConfig.Pipeline.WatchdogSpec
	if _, err := w.cron.AddFunc(spec, func() { w.scanQueue(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule queue scan: %w", err)
	}
	if _, err := w.cron.AddFunc("@hourly", func() { w.sweepExpiredSessions(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}

	w.cron.Start()
	w.infra.Logger.InfoWithContextf(ctx, "[Watchdog] Started, queue scan spec: %s", spec)

	go func() {
		<-ctx.Done()
		w.cron.Stop()
	}()
	return nil
}

// scanQueue looks for entries that claim to be in flight but have not
// heartbeat within their staleness threshold.
func (w *Watchdog) scanQueue(ctx context.Context) {
	entries, err := w.repository.QueueRepo.FindNonTerminal()
	if err != nil {
		w.infra.Logger.ErrorWithContextf(ctx, err, "[Watchdog] Queue scan failed")
		return
	}

	now := time.Now()
	for i := range entries {
		entry := &entries[i]
		if entry.Status == entity.StepStatusPending {
			continue
		}

		var durationSeconds int64
		module, err := w.repository.CourseRepo.FindModule(entry.ModuleID)
		if err == nil {
			durationSeconds = module.DurationSeconds
		}

		threshold := stalenessThreshold(entry.StepName, durationSeconds)
		stale := now.Sub(entry.StaleReference())
		if stale < threshold {
			continue
		}

		w.infra.Logger.WarningWithContextf(ctx, "[Watchdog] Entry %s (%s, module %s) stale for %s (threshold %s)",
			entry.ID, entry.StepName, entry.ModuleID, stale.Round(time.Second), threshold)

		if entry.AttemptCount >= entry.MaxAttempts {
			w.escalate(ctx, entry, module, stale)
			continue
		}

		if err := w.repository.QueueRepo.ResetToPending(entry.ID, 0); err != nil {
			w.infra.Logger.ErrorWithContextf(ctx, err, "[Watchdog] Failed to reset entry %s", entry.ID)
		}
	}
}

// escalate fails an entry that is both stale and out of attempts. A module
// that already produced frames is salvaged as partial-ready instead of
// failed outright.
func (w *Watchdog) escalate(ctx context.Context, entry *entity.ProcessingQueueEntry, module *entity.CourseModule, stale time.Duration) {
	reason := fmt.Sprintf("step %s stalled for %s with no attempts left", entry.StepName, stale.Round(time.Second))
	if err := w.repository.QueueRepo.Fail(entry.ID, reason); err != nil {
		w.infra.Logger.ErrorWithContextf(ctx, err, "[Watchdog] Failed to fail entry %s", entry.ID)
		return
	}

	if module == nil {
		return
	}

	if module.FrameCount > 0 && entry.StepName != entity.StepExtractFrames {
		if err := w.repository.CourseRepo.UpdateModuleProcessing(module.ID, entity.ModuleStatusPartialReady, module.ProgressPercent, entry.StepName); err != nil {
			w.infra.Logger.ErrorWithContextf(ctx, err, "[Watchdog] Failed to mark module %s partial-ready", module.ID)
		}
	} else {
		if err := w.repository.CourseRepo.MarkModuleFailed(module.ID, reason); err != nil {
			w.infra.Logger.ErrorWithContextf(ctx, err, "[Watchdog] Failed to mark module %s failed", module.ID)
		}
	}
	_ = w.infra.Redis.ClearModuleProgress(ctx, module.ID.String())
}

// stalenessThreshold returns how long an in-flight entry may go without a
// heartbeat before the watchdog reclaims it.
func stalenessThreshold(step string, durationSeconds int64) time.Duration {
	if !entity.IsExternalStep(step) {
		return staleDefault
	}

	threshold := staleExternalBase
	extraHours := durationSeconds/3600 - 1
	if extraHours > 0 {
		threshold += time.Duration(extraHours) * staleExternalPerH
	}
	if threshold > staleExternalCap {
		threshold = staleExternalCap
	}
	return threshold
}

// sweepExpiredSessions removes temp chunks of upload sessions past their TTL
func (w *Watchdog) sweepExpiredSessions(ctx context.Context) {
	sessions, err := w.repository.UploadSessionRepo.FindExpired()
	if err != nil {
		w.infra.Logger.ErrorWithContextf(ctx, err, "[Watchdog] Expired session scan failed")
		return
	}

	for i := range sessions {
		session := &sessions[i]
		if err := w.infra.Minio.RemovePrefix(ctx, session.TempBucket, session.TempPrefix); err != nil {
			w.infra.Logger.WarningWithContextf(ctx, "[Watchdog] Failed to sweep temp chunks of session %s: %v", session.ID, err)
			continue
		}
		if err := w.repository.UploadSessionRepo.MarkExpired(session.ID); err != nil {
			w.infra.Logger.ErrorWithContextf(ctx, err, "[Watchdog] Failed to expire session %s", session.ID)
		}
	}

	if len(sessions) > 0 {
		w.infra.Logger.InfoWithContextf(ctx, "[Watchdog] Swept %d expired upload sessions", len(sessions))
	}
}

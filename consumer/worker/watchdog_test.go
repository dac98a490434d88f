package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ducnh/coursereel/entity"
)

func TestStalenessThresholdNonExternalIsFlat(t *testing.T) {
	// Analysis runs in-process, so video length is irrelevant there.
	assert.Equal(t, 5*time.Minute, stalenessThreshold(entity.StepAnalyze, 0))
	assert.Equal(t, 5*time.Minute, stalenessThreshold(entity.StepAnalyze, 4*3600))
	assert.Equal(t, 5*time.Minute, stalenessThreshold("unknown_step", 10*3600))
}

func TestStalenessThresholdScalesWithVideoDuration(t *testing.T) {
	// Up to an hour of video: the 30-minute base only.
	assert.Equal(t, 30*time.Minute, stalenessThreshold(entity.StepExtractFrames, 0))
	assert.Equal(t, 30*time.Minute, stalenessThreshold(entity.StepExtractFrames, 600))
	assert.Equal(t, 30*time.Minute, stalenessThreshold(entity.StepExtractFrames, 3600))

	// Each full hour beyond the first adds ten minutes.
	assert.Equal(t, 40*time.Minute, stalenessThreshold(entity.StepExtractFrames, 2*3600))
	assert.Equal(t, 50*time.Minute, stalenessThreshold(entity.StepTranscribe, 3*3600))
}

func TestStalenessThresholdCapped(t *testing.T) {
	assert.Equal(t, 60*time.Minute, stalenessThreshold(entity.StepExtractFrames, 4*3600))
	assert.Equal(t, 60*time.Minute, stalenessThreshold(entity.StepExtractFrames, 24*3600))
}

func TestStaleReferencePrefersHeartbeat(t *testing.T) {
	created := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	updated := created.Add(10 * time.Minute)
	beat := created.Add(20 * time.Minute)

	entry := &entity.ProcessingQueueEntry{CreatedAt: created}
	assert.Equal(t, created, entry.StaleReference())

	entry.UpdatedAt = updated
	assert.Equal(t, updated, entry.StaleReference())

	entry.LastHeartbeatAt = &beat
	assert.Equal(t, beat, entry.StaleReference())
}

func TestExtractionPercentStaysInsideBand(t *testing.T) {
	oneHour := int64(3600) // expected processing: 30 minutes

	assert.Equal(t, extractProgressFloor, extractionPercent(0, oneHour))

	halfway := extractionPercent(15*time.Minute, oneHour)
	assert.Greater(t, halfway, extractProgressFloor)
	assert.Less(t, halfway, extractProgressCeil)

	// However long the job runs, the estimate never claims completion.
	assert.Equal(t, extractProgressCeil-1, extractionPercent(3*time.Hour, oneHour))
}

func TestExtractionPercentShortVideoUsesFloorExpectation(t *testing.T) {
	// A 30-second clip still gets the two-minute expectation, so one minute
	// in lands mid-band rather than pinned at the top.
	p := extractionPercent(time.Minute, 30)
	assert.Greater(t, p, extractProgressFloor)
	assert.Less(t, p, extractProgressCeil-1)
}

func TestTranscriptionPercentStaysInsideBand(t *testing.T) {
	oneHour := int64(3600) // expected processing: 15 minutes

	assert.Equal(t, transcribeProgressFloor, transcriptionPercent(0, oneHour))

	mid := transcriptionPercent(7*time.Minute, oneHour)
	assert.Greater(t, mid, transcribeProgressFloor)
	assert.Less(t, mid, transcribeProgressCeil)

	assert.Equal(t, transcribeProgressCeil-1, transcriptionPercent(time.Hour, oneHour))
}

func TestNextStepOrder(t *testing.T) {
	assert.Equal(t, entity.StepTranscribe, entity.NextStep(entity.StepExtractFrames))
	assert.Equal(t, entity.StepAnalyze, entity.NextStep(entity.StepTranscribe))
	assert.Empty(t, entity.NextStep(entity.StepAnalyze))
	assert.Empty(t, entity.NextStep("unknown_step"))
}

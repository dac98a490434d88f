package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ducnh/coursereel/entity"
)

func TestLaunchDoesNotBlockOnRunningStep(t *testing.T) {
	started := make(chan uuid.UUID, 2)
	release := make(chan struct{})
	defer close(release)

	c := &PipelineConsumer{}
	c.run = func(_ context.Context, entry *entity.ProcessingQueueEntry) {
		started <- entry.ID
		<-release
	}

	first := &entity.ProcessingQueueEntry{ID: uuid.New(), StepName: entity.StepExtractFrames}
	second := &entity.ProcessingQueueEntry{ID: uuid.New(), StepName: entity.StepTranscribe}

	launched := make(chan struct{})
	go func() {
		c.launch(context.Background(), first)
		c.launch(context.Background(), second)
		close(launched)
	}()

	select {
	case <-launched:
	case <-time.After(time.Second):
		t.Fatal("launch blocked while a step was still running")
	}

	// Both steps are in flight at once, neither waiting on the other.
	seen := map[uuid.UUID]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			seen[id] = true
		case <-time.After(time.Second):
			t.Fatal("launched step never started")
		}
	}
	assert.True(t, seen[first.ID])
	assert.True(t, seen[second.ID])
}

package uploader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock drives a progressTracker deterministically
type fakeClock struct {
	at time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }
func (c *fakeClock) read() time.Time         { return c.at }

func newTrackedClock(fileName string, total int64) (*progressTracker, *fakeClock) {
	clock := &fakeClock{at: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	tracker := newProgressTracker(fileName, total)
	tracker.now = clock.read
	return tracker, clock
}

func TestProgressPercentAndIdentity(t *testing.T) {
	tracker, clock := newTrackedClock("lecture.mp4", 1000)

	p := tracker.update(250)
	assert.Equal(t, "lecture.mp4", p.FileName)
	assert.Equal(t, int64(250), p.BytesTransferred)
	assert.Equal(t, int64(1000), p.TotalBytes)
	assert.InDelta(t, 25.0, p.Percent, 0.001)

	clock.advance(time.Second)
	p = tracker.update(1000)
	assert.InDelta(t, 100.0, p.Percent, 0.001)
}

func TestProgressSpeedSmoothedOverWindow(t *testing.T) {
	tracker, clock := newTrackedClock("lecture.mp4", 10_000)

	// One sample per second: 1000 bytes each, steady.
	tracker.update(0)
	for i := 1; i <= 4; i++ {
		clock.advance(time.Second)
		tracker.update(int64(i) * 1000)
	}
	p := tracker.update(4000)
	assert.InDelta(t, 1000.0, p.SpeedBps, 0.001)

	// A burst in the most recent second moves the window average, but the
	// older samples still damp it below the instantaneous rate.
	clock.advance(time.Second)
	p = tracker.update(14_000)
	assert.Greater(t, p.SpeedBps, 1000.0)
	assert.Less(t, p.SpeedBps, 10_000.0)
}

func TestProgressSpeedNotRecomputedWithinHalfSecond(t *testing.T) {
	tracker, clock := newTrackedClock("lecture.mp4", 10_000)

	tracker.update(0)
	clock.advance(time.Second)
	first := tracker.update(1000)

	// 100ms later a much faster burst arrives; the displayed speed must not
	// jump until the recompute interval elapses.
	clock.advance(100 * time.Millisecond)
	second := tracker.update(5000)
	assert.Equal(t, first.SpeedBps, second.SpeedBps)
	assert.Equal(t, int64(5000), second.BytesTransferred, "byte count always reflects the latest update")

	clock.advance(500 * time.Millisecond)
	third := tracker.update(6000)
	assert.NotEqual(t, first.SpeedBps, third.SpeedBps)
}

func TestProgressETAFromSmoothedSpeed(t *testing.T) {
	tracker, clock := newTrackedClock("lecture.mp4", 10_000)

	tracker.update(0)
	clock.advance(time.Second)
	p := tracker.update(1000)

	// 9000 bytes left at 1000 B/s.
	assert.Equal(t, 9*time.Second, p.ETA)
}

func TestProgressNoSpeedBeforeTwoSamples(t *testing.T) {
	tracker, _ := newTrackedClock("lecture.mp4", 1000)

	p := tracker.update(100)
	assert.Zero(t, p.SpeedBps)
	assert.Zero(t, p.ETA)
}

func TestProgressZeroTotalDoesNotDivide(t *testing.T) {
	tracker, _ := newTrackedClock("empty.bin", 0)

	p := tracker.update(0)
	assert.Zero(t, p.Percent)
}

package uploader

import (
	"time"
)

// Progress is one callback payload: percentage, bytes moved, smoothed speed
// and the ETA derived from it.
type Progress struct {
	FileName         string
	BytesTransferred int64
	TotalBytes       int64
	Percent          float64
	SpeedBps         float64
	ETA              time.Duration
}

// ProgressFunc receives progress updates and transport events. Nil callbacks
// are allowed everywhere.
type ProgressFunc func(p Progress)

// EventFunc receives discrete transport events
type EventFunc func(e Event)

// Event is a tagged union of the observable transport events
type Event interface{ isEvent() }

type ChunkSent struct {
	ChunkIndex int
	Size       int64
}

type ChunkFailed struct {
	ChunkIndex int
	Err        error
}

type FrameSent struct {
	Offset int64
	Size   int64
}

type RetryAttempted struct {
	Operation string
	Attempt   int
	Delay     time.Duration
}

type TransportFallback struct {
	From string
	To   string
}

type VerificationProbe struct {
	Attempt int
	OK      bool
}

func (ChunkSent) isEvent()         {}
func (ChunkFailed) isEvent()       {}
func (FrameSent) isEvent()         {}
func (RetryAttempted) isEvent()    {}
func (TransportFallback) isEvent() {}
func (VerificationProbe) isEvent() {}

const (
	speedWindow       = 5
	minRecomputeDelay = 500 * time.Millisecond
)

// progressTracker smooths instantaneous speed over the last few samples.
// One tracker per session; trackers are never shared between sessions so
// concurrent uploads cannot cross-contaminate speed estimates.
type progressTracker struct {
	fileName   string
	totalBytes int64

	samples  []speedSample
	lastEmit time.Time
	lastBps  float64

	now func() time.Time
}

type speedSample struct {
	at    time.Time
	bytes int64
}

func newProgressTracker(fileName string, totalBytes int64) *progressTracker {
	return &progressTracker{
		fileName:   fileName,
		totalBytes: totalBytes,
		now:        time.Now,
	}
}

// update records the cumulative byte count and returns a Progress snapshot.
// Speed is recomputed at most every half second; between recomputes the last
// value is reused.
func (t *progressTracker) update(bytesTransferred int64) Progress {
	now := t.now()

	if t.lastEmit.IsZero() || now.Sub(t.lastEmit) >= minRecomputeDelay {
		t.samples = append(t.samples, speedSample{at: now, bytes: bytesTransferred})
		if len(t.samples) > speedWindow {
			t.samples = t.samples[len(t.samples)-speedWindow:]
		}
		t.lastBps = t.smoothedSpeed()
		t.lastEmit = now
	}

	p := Progress{
		FileName:         t.fileName,
		BytesTransferred: bytesTransferred,
		TotalBytes:       t.totalBytes,
		SpeedBps:         t.lastBps,
	}
	if t.totalBytes > 0 {
		p.Percent = float64(bytesTransferred) / float64(t.totalBytes) * 100
	}
	if t.lastBps > 0 {
		remaining := t.totalBytes - bytesTransferred
		p.ETA = time.Duration(float64(remaining)/t.lastBps) * time.Second
	}
	return p
}

func (t *progressTracker) smoothedSpeed() float64 {
	if len(t.samples) < 2 {
		return 0
	}
	first := t.samples[0]
	last := t.samples[len(t.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / elapsed
}

package archive

import (
	"sync"
	"time"
)

// Progress is a snapshot of the write phase, safe to hand to a callback.
type Progress struct {
	Processed      int
	Total          int
	Percent        float64
	BytesWritten   int64
	BytesPerSecond int64
	Elapsed        time.Duration
}

// ProgressFunc receives periodic progress snapshots during the write phase.
// It runs on the reporter goroutine and must not block.
type ProgressFunc func(Progress)

// tracker accumulates write-phase counters. The writer goroutine is the
// sole mutator; the reporter only reads, under the same mutex.
type tracker struct {
	mu        sync.Mutex
	processed int
	total     int
	bytes     int64
	startTime time.Time
}

func newTracker(total int) *tracker {
	return &tracker{
		total:     total,
		startTime: time.Now(),
	}
}

// advance records one processed entry and the bytes it contributed.
func (t *tracker) advance(bytes int64) {
	t.mu.Lock()
	t.processed++
	t.bytes += bytes
	t.mu.Unlock()
}

// snapshot returns a copy of the current counters.
func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pct float64
	if t.total > 0 {
		pct = float64(t.processed) / float64(t.total) * 100
	}

	elapsed := time.Since(t.startTime)
	var rate int64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = int64(float64(t.bytes) / secs)
	}

	return Progress{
		Processed:      t.processed,
		Total:          t.total,
		Percent:        pct,
		BytesWritten:   t.bytes,
		BytesPerSecond: rate,
		Elapsed:        elapsed,
	}
}

// reporter delivers snapshots to a ProgressFunc on a fixed interval until
// halted. It owns no state of its own besides the two channels.
type reporter struct {
	stop chan struct{}
	done chan struct{}
}

// startReporter launches the reporter goroutine.
func startReporter(t *tracker, interval time.Duration, fn ProgressFunc) *reporter {
	r := &reporter{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				fn(t.snapshot())
			}
		}
	}()
	return r
}

// halt signals the reporter to stop and waits at most joinTimeout for the
// goroutine to exit. It returns false on timeout; the caller proceeds
// either way so a wedged callback can never hold up the archive.
func (r *reporter) halt(joinTimeout time.Duration) bool {
	close(r.stop)
	select {
	case <-r.done:
		return true
	case <-time.After(joinTimeout):
		return false
	}
}

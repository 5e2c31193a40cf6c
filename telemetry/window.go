package telemetry

import (
	"sync"
	"time"
)

// RollingWindow counts successes and failures in one-second buckets over a
// fixed span. Used for the health evaluator's recent error rate.
type RollingWindow struct {
	mu      sync.Mutex
	buckets []windowBucket
	span    time.Duration
	now     func() time.Time // replaceable in tests
}

type windowBucket struct {
	second   int64
	total    int64
	failures int64
}

// NewRollingWindow creates a window covering the given span, minimum one
// second.
func NewRollingWindow(span time.Duration) *RollingWindow {
	if span < time.Second {
		span = time.Second
	}
	return &RollingWindow{
		buckets: make([]windowBucket, int(span/time.Second)),
		span:    span,
		now:     time.Now,
	}
}

// Record adds one observation.
func (w *RollingWindow) Record(success bool) {
	sec := w.now().Unix()
	idx := int(sec % int64(len(w.buckets)))

	w.mu.Lock()
	defer w.mu.Unlock()
	b := &w.buckets[idx]
	if b.second != sec {
		b.second = sec
		b.total = 0
		b.failures = 0
	}
	b.total++
	if !success {
		b.failures++
	}
}

// ErrorRate returns the failure fraction over the window, and the total
// observation count. An empty window reports a zero rate.
func (w *RollingWindow) ErrorRate() (rate float64, total int64) {
	cutoff := w.now().Unix() - int64(len(w.buckets))

	w.mu.Lock()
	defer w.mu.Unlock()
	var failures int64
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.second <= cutoff {
			continue
		}
		total += b.total
		failures += b.failures
	}
	if total == 0 {
		return 0, 0
	}
	return float64(failures) / float64(total), total
}

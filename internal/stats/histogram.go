package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	lowestTrackable  = 1
	highestTrackable = int64(10 * time.Minute / time.Microsecond)
	significantFigs  = 3
)

// SafeHistogram is a thread-safe wrapper around hdrhistogram
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1us to 10min, 3 significant figures
	h := hdrhistogram.New(lowestTrackable, highestTrackable, significantFigs)
	return &SafeHistogram{hist: h}
}

// RecordValue records a latency in microseconds. Values outside the
// trackable range are clamped so no sample is dropped.
func (h *SafeHistogram) RecordValue(v int64) error {
	if v < 0 {
		v = 0
	}
	if v > highestTrackable {
		v = highestTrackable
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.RecordValue(v)
}

func (h *SafeHistogram) ValueAtQuantile(q float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.ValueAtQuantile(q)
}

func (h *SafeHistogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Mean()
}

func (h *SafeHistogram) Max() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Max()
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}

// Snapshot copies the histogram under the lock. The copy is private to the
// caller, so quantile queries on it never contend with writers.
func (h *SafeHistogram) Snapshot() *hdrhistogram.Histogram {
	h.mu.Lock()
	snap := h.hist.Export()
	h.mu.Unlock()
	return hdrhistogram.Import(snap)
}

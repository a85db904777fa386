package stats

import (
	"sync/atomic"
	"time"

	"rampcheck/internal/classify"
)

// RequestRecord describes one completed attempt. Records are folded into the
// aggregator and then dropped.
type RequestRecord struct {
	Scenario       string
	Start          time.Time
	DurationMicros int64
	Outcome        classify.Outcome
	Status         int
}

type outcomeCounters [classify.NumOutcomes]atomic.Uint64

// Aggregator holds real-time aggregated metrics for a run. Memory is fixed at
// construction: one counter per outcome, one per scenario and outcome, and an
// hdr histogram for latency.
type Aggregator struct {
	counts    outcomeCounters
	scenarios map[string]*outcomeCounters
	names     []string

	// Latency histogram (microseconds)
	latency *SafeHistogram
}

// NewAggregator pre-registers scenario names for the per-scenario breakdown.
// The map is never written after construction.
func NewAggregator(scenarioNames ...string) *Aggregator {
	a := &Aggregator{
		scenarios: make(map[string]*outcomeCounters, len(scenarioNames)),
		latency:   NewSafeHistogram(),
	}
	for _, name := range scenarioNames {
		if _, ok := a.scenarios[name]; ok {
			continue
		}
		a.scenarios[name] = new(outcomeCounters)
		a.names = append(a.names, name)
	}
	return a
}

// Record counts one outcome and folds its latency into the histogram.
func (a *Aggregator) Record(outcome classify.Outcome, durationMicros int64) {
	if !outcome.Valid() {
		outcome = classify.UnexpectedError
	}
	a.counts[outcome].Add(1)
	a.latency.RecordValue(durationMicros)
}

// RecordRequest is Record plus the per-scenario breakdown. Unknown scenario
// names only count globally.
func (a *Aggregator) RecordRequest(rec RequestRecord) {
	a.Record(rec.Outcome, rec.DurationMicros)
	if c, ok := a.scenarios[rec.Scenario]; ok && rec.Outcome.Valid() {
		c[rec.Outcome].Add(1)
	}
}

// Count returns the current counter for one outcome.
func (a *Aggregator) Count(o classify.Outcome) uint64 {
	if !o.Valid() {
		return 0
	}
	return a.counts[o].Load()
}

// Total is the sum of all outcome counters.
func (a *Aggregator) Total() uint64 {
	var total uint64
	for i := range a.counts {
		total += a.counts[i].Load()
	}
	return total
}

// Snapshot returns an independent copy of the current state. Writers are only
// blocked while the histogram buckets are copied.
func (a *Aggregator) Snapshot() Summary {
	s := Summary{
		Counts:    make(map[classify.Outcome]uint64, classify.NumOutcomes),
		Scenarios: make(map[string]map[classify.Outcome]uint64, len(a.names)),
	}
	for _, o := range classify.AllOutcomes() {
		n := a.counts[o].Load()
		s.Counts[o] = n
		s.Total += n
	}
	for _, name := range a.names {
		c := a.scenarios[name]
		m := make(map[classify.Outcome]uint64, classify.NumOutcomes)
		for _, o := range classify.AllOutcomes() {
			m[o] = c[o].Load()
		}
		s.Scenarios[name] = m
	}

	h := a.latency.Snapshot()
	s.hist = h
	if h.TotalCount() > 0 {
		s.Latency = LatencySummary{
			P50: usToMs(h.ValueAtQuantile(50)),
			P90: usToMs(h.ValueAtQuantile(90)),
			P95: usToMs(h.ValueAtQuantile(95)),
			P99: usToMs(h.ValueAtQuantile(99)),
			Avg: h.Mean() / 1000.0,
			Min: usToMs(h.Min()),
			Max: usToMs(h.Max()),
		}
	}
	return s
}

func usToMs(v int64) float64 {
	return float64(v) / 1000.0
}

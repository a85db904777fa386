package stats

import (
	"github.com/HdrHistogram/hdrhistogram-go"

	"rampcheck/internal/classify"
)

// LatencySummary holds latency figures in milliseconds.
type LatencySummary struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Summary is an immutable snapshot of an Aggregator.
type Summary struct {
	Counts    map[classify.Outcome]uint64            `json:"counts"`
	Total     uint64                                 `json:"total"`
	Latency   LatencySummary                         `json:"latency_ms"`
	Scenarios map[string]map[classify.Outcome]uint64 `json:"scenarios,omitempty"`

	hist *hdrhistogram.Histogram
}

// Percentile returns the latency in ms at quantile q (0-100). Snapshots keep
// their histogram copy so arbitrary quantiles can be asked for later.
func (s Summary) Percentile(q float64) float64 {
	if s.hist == nil || s.hist.TotalCount() == 0 {
		switch q {
		case 50:
			return s.Latency.P50
		case 90:
			return s.Latency.P90
		case 95:
			return s.Latency.P95
		case 99:
			return s.Latency.P99
		}
		return 0
	}
	return usToMs(s.hist.ValueAtQuantile(q))
}

// Sum adds the counters of the given outcomes.
func (s Summary) Sum(outcomes ...classify.Outcome) uint64 {
	var n uint64
	for _, o := range outcomes {
		n += s.Counts[o]
	}
	return n
}

// Rate is Sum(outcomes)/Total, or 0 for an empty run.
func (s Summary) Rate(outcomes ...classify.Outcome) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Sum(outcomes...)) / float64(s.Total)
}

// Errors counts unexpected statuses and transport failures.
func (s Summary) Errors() uint64 {
	return s.Sum(classify.UnexpectedError, classify.TransportFailure)
}

// SuccessRate counts expected client errors as handled: the target answered
// the way it should.
func (s Summary) SuccessRate() float64 {
	return s.Rate(classify.Success, classify.ExpectedClientError)
}

func (s Summary) FailureRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return 1 - s.SuccessRate()
}

// ScenarioCount returns the count of outcome o for one scenario.
func (s Summary) ScenarioCount(name string, o classify.Outcome) uint64 {
	return s.Scenarios[name][o]
}

// ScenarioTotal returns all attempts recorded for one scenario.
func (s Summary) ScenarioTotal(name string) uint64 {
	var n uint64
	for _, c := range s.Scenarios[name] {
		n += c
	}
	return n
}

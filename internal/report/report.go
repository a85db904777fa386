// Package report writes the outcome of a run to disk.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"rampcheck/internal/classify"
	"rampcheck/internal/stats"
	"rampcheck/internal/threshold"
)

// Report is the persisted result of one run.
type Report struct {
	RunID     string            `json:"run_id"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration_ns"`
	Target    string            `json:"target"`
	Stages    []string          `json:"stages,omitempty"`
	Summary   stats.Summary     `json:"summary"`
	Verdict   threshold.Verdict `json:"verdict"`
}

func New(target string, stages []string, started time.Time, summary stats.Summary, verdict threshold.Verdict) Report {
	return Report{
		RunID:     uuid.NewString(),
		StartedAt: started,
		Duration:  time.Since(started).Round(time.Millisecond),
		Target:    target,
		Stages:    stages,
		Summary:   summary,
		Verdict:   verdict,
	}
}

// WriteJSON writes r indented to filename.
func (r Report) WriteJSON(filename string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// ReadJSON loads a file written by WriteJSON.
func ReadJSON(filename string) (Report, error) {
	var r Report
	data, err := os.ReadFile(filename)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("report: %s: %w", filename, err)
	}
	return r, nil
}

// WriteCSV writes one row per scenario with a column per outcome, followed
// by an "all" row.
func (r Report) WriteCSV(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	outcomes := classify.AllOutcomes()
	header := []string{"scenario", "total"}
	for _, o := range outcomes {
		header = append(header, o.String())
	}
	if err := w.Write(header); err != nil {
		return err
	}

	row := func(name string, total uint64, count func(classify.Outcome) uint64) error {
		rec := []string{name, strconv.FormatUint(total, 10)}
		for _, o := range outcomes {
			rec = append(rec, strconv.FormatUint(count(o), 10))
		}
		return w.Write(rec)
	}

	for _, name := range r.scenarioNames() {
		name := name
		err := row(name, r.Summary.ScenarioTotal(name), func(o classify.Outcome) uint64 {
			return r.Summary.ScenarioCount(name, o)
		})
		if err != nil {
			return err
		}
	}
	err = row("all", r.Summary.Total, func(o classify.Outcome) uint64 {
		return r.Summary.Counts[o]
	})
	if err != nil {
		return err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func (r Report) scenarioNames() []string {
	names := make([]string, 0, len(r.Summary.Scenarios))
	for name := range r.Summary.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

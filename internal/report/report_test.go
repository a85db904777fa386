package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rampcheck/internal/classify"
	"rampcheck/internal/stats"
	"rampcheck/internal/threshold"
)

func sampleReport() Report {
	agg := stats.NewAggregator("valid-jira", "service-unavailable")
	agg.RecordRequest(stats.RequestRecord{Scenario: "valid-jira", Outcome: classify.Success, DurationMicros: 12000})
	agg.RecordRequest(stats.RequestRecord{Scenario: "valid-jira", Outcome: classify.Success, DurationMicros: 8000})
	agg.RecordRequest(stats.RequestRecord{Scenario: "service-unavailable", Outcome: classify.CircuitOpen, DurationMicros: 900})

	summary := agg.Snapshot()
	verdict := threshold.Evaluate(summary, []threshold.Spec{threshold.MustParse("total", "total==3", true)})
	return New("http://localhost:8083", []string{"1s:1"}, time.Now().Add(-time.Second), summary, verdict)
}

func TestReport_JSON(t *testing.T) {
	r := sampleReport()
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, r.WriteJSON(path))

	got, err := ReadJSON(path)
	require.NoError(t, err)
	assert.Equal(t, r.RunID, got.RunID)
	assert.Equal(t, uint64(3), got.Summary.Total)
	assert.Equal(t, uint64(1), got.Summary.Counts[classify.CircuitOpen])
	assert.Equal(t, uint64(2), got.Summary.ScenarioCount("valid-jira", classify.Success))
	assert.True(t, got.Verdict.Passed)
	assert.InDelta(t, r.Summary.Latency.P95, got.Summary.Latency.P95, 1e-9)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"circuit_open": 1`)
}

func TestReport_CSV(t *testing.T) {
	r := sampleReport()
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, r.WriteCSV(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, []string{"scenario", "total", "success"}, rows[0][:3])
	assert.Len(t, rows[0], 2+int(classify.NumOutcomes))
	assert.Equal(t, "service-unavailable", rows[1][0])
	assert.Equal(t, "valid-jira", rows[2][0])
	assert.Equal(t, []string{"all", "3", "2"}, rows[3][:3])
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewRequestLog(&buf)
	require.NoError(t, err)

	start := time.UnixMilli(1700000000000)
	l.ObserveRequest(stats.RequestRecord{Scenario: "valid-jira", Start: start, DurationMicros: 15000, Outcome: classify.Success, Status: 201})
	l.ObserveRequest(stats.RequestRecord{Scenario: "service-unavailable", Start: start, DurationMicros: 400, Outcome: classify.CircuitOpen, Status: 503})
	l.ObservePool(1, 1)
	require.NoError(t, l.Flush())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1700000000000,15,valid-jira,201,Created,true,", lines[1])
	assert.Equal(t, "1700000000000,0,service-unavailable,503,Service Unavailable,false,circuit_open", lines[2])
}

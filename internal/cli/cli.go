// Package cli runs a plan headless and prints progress and results to a
// terminal or CI log.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"rampcheck/internal/classify"
	"rampcheck/internal/config"
	"rampcheck/internal/report"
	"rampcheck/internal/runner"
	"rampcheck/internal/session"
	"rampcheck/internal/stats"
)

// ErrThresholdsFailed is returned when a required threshold did not hold.
var ErrThresholdsFailed = errors.New("one or more required thresholds failed")

const rule = "======================================================================"

// Start runs plan and blocks until it finishes or ctx is cancelled.
func Start(ctx context.Context, plan *config.Plan, logger *slog.Logger) error {
	return run(ctx, os.Stdout, plan, logger)
}

func run(ctx context.Context, out io.Writer, plan *config.Plan, logger *slog.Logger) error {
	printHeader(out, plan)

	updates := make(runner.StatsUpdateChan, 100)
	s, err := session.New(plan, logger, updates)
	if err != nil {
		return err
	}

	monitorDone := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor(out, updates, stop)
	}()

	rep, err := s.Run(ctx)
	close(stop)
	<-monitorDone

	PrintSummary(out, rep)
	if err != nil {
		return err
	}
	if !rep.Verdict.Passed {
		return ErrThresholdsFailed
	}
	return nil
}

// monitor prints one progress line per snapshot until stop closes.
func monitor(out io.Writer, updates runner.StatsUpdateChan, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case snap := <-updates:
			fmt.Fprint(out, "\r"+progressLine(snap))
		}
	}
}

func progressLine(s runner.StatsSnapshot) string {
	pct := 0.0
	if s.Duration > 0 {
		pct = s.Elapsed.Seconds() / s.Duration.Seconds()
	}
	if pct > 1.0 {
		pct = 1.0
	}

	rps := 0.0
	if s.Elapsed > 0 {
		rps = float64(s.Summary.Total) / s.Elapsed.Seconds()
	}

	if s.Elapsed >= s.Duration && s.Inflight > 0 {
		return fmt.Sprintf("%s %3.0f%% | %s/%s | Draining: %d requests...                ",
			progressBar(1.0, 20), 100.0,
			s.Elapsed.Round(time.Second), s.Duration,
			s.Inflight)
	}

	return fmt.Sprintf("%s %3.0f%% | %s/%s | VUs: %3d/%-3d | Inf: %3d | RPS: %.1f | OK: %d | Err: %d",
		progressBar(pct, 20), pct*100,
		s.Elapsed.Round(time.Second), s.Duration,
		s.Active, s.Target,
		s.Inflight,
		rps,
		s.Summary.Sum(classify.Success, classify.ExpectedClientError),
		s.Summary.Total-s.Summary.Sum(classify.Success, classify.ExpectedClientError),
	)
}

func printHeader(out io.Writer, plan *config.Plan) {
	stages := make([]string, 0, len(plan.Profile.Stages()))
	for _, st := range plan.Profile.Stages() {
		stages = append(stages, st.String())
	}

	fmt.Fprintf(out, "\n🚀 STARTING RAMPCHECK LOAD TEST\n")
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Target URL : %s\n", plan.Runner.BaseURL)
	fmt.Fprintf(out, "Stages     : %s (%s, peak %d VUs)\n", strings.Join(stages, " → "), plan.Profile.Total(), plan.Profile.MaxTarget())
	fmt.Fprintf(out, "Scenarios  : ")
	for i, sc := range plan.Selector.Scenarios() {
		if i > 0 {
			fmt.Fprint(out, ", ")
		}
		fmt.Fprintf(out, "%s %.0f%%", sc.Name, plan.Selector.Probability(sc.Name)*100)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Timeout    : %s (abort after %s)\n", plan.Runner.RequestTimeout, plan.Runner.AbortTimeout)
	fmt.Fprintln(out, rule)
	fmt.Fprintln(out)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

// PrintSummary writes the end-of-run report, stored runs included.
func PrintSummary(out io.Writer, rep report.Report) {
	s := rep.Summary
	rps := 0.0
	if rep.Duration > 0 {
		rps = float64(s.Total) / rep.Duration.Seconds()
	}

	fmt.Fprintf(out, "\n\n📊 LOAD TEST RESULTS\n")
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Run ID         : %s\n", rep.RunID)
	fmt.Fprintf(out, "Total Duration : %s\n", rep.Duration.Round(time.Second))
	fmt.Fprintf(out, "Requests Sent  : %d\n", s.Total)
	fmt.Fprintf(out, "Actual RPS     : %.2f\n", rps)
	fmt.Fprintf(out, "Success Rate   : %.2f%%\n", s.SuccessRate()*100)
	fmt.Fprintf(out, "Circuit Open   : %.2f%%\n", s.Rate(classify.CircuitOpen)*100)
	fmt.Fprintf(out, "Bulkhead Full  : %.2f%%\n", s.Rate(classify.ResourcePoolExhausted)*100)

	fmt.Fprintf(out, "\n⏱️  RESPONSE TIMES (ms)\n")
	fmt.Fprintf(out, "   P50 : %.2f\n", s.Latency.P50)
	fmt.Fprintf(out, "   P90 : %.2f\n", s.Latency.P90)
	fmt.Fprintf(out, "   P95 : %.2f\n", s.Latency.P95)
	fmt.Fprintf(out, "   P99 : %.2f\n", s.Latency.P99)
	fmt.Fprintf(out, "   Avg : %.2f\n", s.Latency.Avg)
	fmt.Fprintf(out, "   Max : %.2f\n", s.Latency.Max)

	fmt.Fprintf(out, "\n📋 OUTCOMES\n")
	for _, o := range classify.AllOutcomes() {
		if n := s.Counts[o]; n > 0 {
			fmt.Fprintf(out, "   %-26s %8d  %6.2f%%\n", o, n, s.Rate(o)*100)
		}
	}

	printScenarios(out, s)

	fmt.Fprintf(out, "\n🎯 THRESHOLDS\n")
	for _, d := range rep.Verdict.Details {
		mark := "✅"
		if !d.Passed {
			mark = "❌"
		}
		opt := ""
		if !d.Required {
			opt = " (optional)"
		}
		fmt.Fprintf(out, "   %s %-20s %-24s observed %.4g%s\n", mark, d.Name, d.Expr, d.Observed, opt)
	}
	if rep.Verdict.Passed {
		fmt.Fprintf(out, "\n✅ PASSED\n")
	} else {
		fmt.Fprintf(out, "\n❌ FAILED: %s\n", strings.Join(rep.Verdict.Failed(), ", "))
	}
	fmt.Fprintln(out, rule)
}

func printScenarios(out io.Writer, s stats.Summary) {
	if len(s.Scenarios) == 0 {
		return
	}
	names := make([]string, 0, len(s.Scenarios))
	for name := range s.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "\n🧩 SCENARIOS\n")
	for _, name := range names {
		total := s.ScenarioTotal(name)
		var parts []string
		for _, o := range classify.AllOutcomes() {
			if n := s.ScenarioCount(name, o); n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", o, n))
			}
		}
		fmt.Fprintf(out, "   %-22s %8d  %s\n", name, total, strings.Join(parts, " "))
	}
}

package result

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rampcheck/internal/classify"
	"rampcheck/internal/report"
	"rampcheck/internal/tui/styles"
)

type Model struct {
	Report report.Report
	Err    error

	Scenarios table.Model

	Width  int
	Height int
}

func NewModel(rep report.Report, err error) Model {
	columns := []table.Column{
		{Title: "Scenario", Width: 22},
		{Title: "Reqs", Width: 8},
		{Title: "OK", Width: 8},
		{Title: "4xx", Width: 8},
		{Title: "Circuit", Width: 8},
		{Title: "Bulkhead", Width: 9},
		{Title: "Other", Width: 8},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(scenarioRows(rep)),
		table.WithFocused(true),
		table.WithHeight(len(rep.Summary.Scenarios)+1),
	)
	t.SetStyles(styles.TableStyles())

	return Model{Report: rep, Err: err, Scenarios: t}
}

func scenarioRows(rep report.Report) []table.Row {
	s := rep.Summary
	names := make([]string, 0, len(s.Scenarios))
	for name := range s.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		total := s.ScenarioTotal(name)
		ok := s.ScenarioCount(name, classify.Success)
		client := s.ScenarioCount(name, classify.ExpectedClientError)
		circuit := s.ScenarioCount(name, classify.CircuitOpen)
		bulkhead := s.ScenarioCount(name, classify.ResourcePoolExhausted)
		rows = append(rows, table.Row{
			name,
			fmt.Sprint(total),
			fmt.Sprint(ok),
			fmt.Sprint(client),
			fmt.Sprint(circuit),
			fmt.Sprint(bulkhead),
			fmt.Sprint(total - ok - client - circuit - bulkhead),
		})
	}
	return rows
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	var cmd tea.Cmd
	m.Scenarios, cmd = m.Scenarios.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	s := strings.Builder{}
	rep := m.Report
	sum := rep.Summary

	title := "📊 Test Complete"
	if rep.Verdict.Passed {
		title += "  " + styles.Success.Render("PASSED")
	} else {
		title += "  " + styles.Error.Render("FAILED")
	}
	s.WriteString(styles.Title.Render(title))
	s.WriteString("\n\n")

	if m.Err != nil {
		s.WriteString(styles.Error.Render("⚠ " + m.Err.Error()))
		s.WriteString("\n\n")
	}

	rps := 0.0
	if rep.Duration > 0 {
		rps = float64(sum.Total) / rep.Duration.Seconds()
	}
	overview := fmt.Sprintf(
		"Run:      %s\nTarget:   %s\nDuration: %s\nRequests: %d (%.1f/s)\nSuccess:  %.2f%%",
		shortID(rep.RunID), rep.Target, rep.Duration.Round(time.Second), sum.Total, rps, sum.SuccessRate()*100,
	)
	latency := fmt.Sprintf(
		"Avg: %.2f ms\nP50: %.2f ms\nP90: %.2f ms\nP95: %.2f ms\nP99: %.2f ms\nMax: %.2f ms",
		sum.Latency.Avg, sum.Latency.P50, sum.Latency.P90, sum.Latency.P95, sum.Latency.P99, sum.Latency.Max,
	)

	var outcomes strings.Builder
	for _, o := range classify.AllOutcomes() {
		if n := sum.Counts[o]; n > 0 {
			outcomes.WriteString(styles.Outcome(o).Render(fmt.Sprintf("%-26s %7d %6.2f%%", o, n, sum.Rate(o)*100)))
			outcomes.WriteString("\n")
		}
	}
	if outcomes.Len() == 0 {
		outcomes.WriteString(styles.Subtle.Render("no requests completed"))
	}

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(styles.Active.Render("Overview")+"\n"+overview),
		styles.Box.Render(styles.Active.Render("Latency")+"\n"+latency),
		styles.Box.Render(styles.Active.Render("Outcomes")+"\n"+strings.TrimRight(outcomes.String(), "\n")),
	))
	s.WriteString("\n\n")

	if len(m.Scenarios.Rows()) > 0 {
		s.WriteString(styles.Box.Render(m.Scenarios.View()))
		s.WriteString("\n\n")
	}

	s.WriteString(styles.Active.Render("Thresholds"))
	s.WriteString("\n")
	for _, d := range rep.Verdict.Details {
		mark := styles.Success.Render("✔")
		if !d.Passed {
			mark = styles.Error.Render("✘")
			if !d.Required {
				mark = styles.Warn.Render("✘")
			}
		}
		s.WriteString(fmt.Sprintf(" %s %-20s %-24s %s\n", mark, d.Name, d.Expr,
			styles.Subtle.Render(fmt.Sprintf("observed %.4g", d.Observed))))
	}

	s.WriteString("\n")
	s.WriteString(styles.RenderKey("q", "quit"))
	return s.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

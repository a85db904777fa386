package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rampcheck/internal/classify"
	"rampcheck/internal/runner"
	"rampcheck/internal/schedule"
	"rampcheck/internal/tui/components"
	"rampcheck/internal/tui/styles"
)

type Model struct {
	Stats    runner.StatsSnapshot
	Profile  *schedule.Profile
	Progress progress.Model

	RpsLine     components.Sparkline
	LatencyLine components.Sparkline
	VUsLine     components.Sparkline

	LastElapsed time.Duration
	LastReqs    uint64
	Stopping    bool

	Width  int
	Height int
}

func NewModel(p *schedule.Profile) Model {
	return Model{
		Profile:     p,
		Progress:    progress.New(progress.WithDefaultGradient()),
		RpsLine:     components.NewSparkline(40, "RPS", "req/s", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency P95", "ms", styles.Warn),
		VUsLine:     components.NewSparkline(40, "VUs", "workers", styles.Info),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.StatsSnapshot:
		dt := (msg.Elapsed - m.LastElapsed).Seconds()
		if dt < 0.01 {
			dt = 0.01
		}

		rps := float64(msg.Summary.Total-m.LastReqs) / dt
		m.RpsLine.Add(rps)
		m.LatencyLine.Add(msg.Summary.Latency.P95)
		m.VUsLine.Add(float64(msg.Active))

		m.Stats = msg
		m.LastReqs = msg.Summary.Total
		m.LastElapsed = msg.Elapsed

		pct := 0.0
		if msg.Duration > 0 {
			pct = float64(msg.Elapsed) / float64(msg.Duration)
		}
		if pct > 1.0 {
			pct = 1.0
		}
		return m, m.Progress.SetPercent(pct)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		if msg.Width > 4 {
			m.Progress.Width = msg.Width - 4
		}

		third := (msg.Width / 3) - 6
		if third < 10 {
			third = 10
		}
		m.RpsLine.SetWidth(third)
		m.LatencyLine.SetWidth(third)
		m.VUsLine.SetWidth(third)
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) stageLine() string {
	if m.Profile == nil {
		return ""
	}
	var parts []string
	for i, st := range m.Profile.Stages() {
		label := st.String()
		switch {
		case i == m.Stats.Stage:
			label = styles.Active.Render("▶ " + label)
		case m.Stats.Stage >= 0 && i < m.Stats.Stage, m.Stats.Stage < 0 && m.Stats.Elapsed > 0:
			label = styles.Subtle.Render(label)
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, styles.Subtle.Render(" → "))
}

func (m Model) View() string {
	s := strings.Builder{}
	sum := m.Stats.Summary

	s.WriteString(m.stageLine())
	s.WriteString("\n\n")

	fail := sum.FailureRate()
	col1 := fmt.Sprintf("REQ: %d\nINF: %d\nVUs: %d/%d",
		sum.Total, m.Stats.Inflight, m.Stats.Active, m.Stats.Target)
	col2 := styles.Rate(fail).Render(fmt.Sprintf("OK:   %.2f%%\nFAIL: %.2f%%\nERR:  %d",
		sum.SuccessRate()*100, fail*100, sum.Errors()))
	col3 := fmt.Sprintf("%s\n%s",
		styles.Outcome(classify.CircuitOpen).Render(fmt.Sprintf("CIRCUIT:  %.2f%%", sum.Rate(classify.CircuitOpen)*100)),
		styles.Outcome(classify.ResourcePoolExhausted).Render(fmt.Sprintf("BULKHEAD: %.2f%%", sum.Rate(classify.ResourcePoolExhausted)*100)),
	)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
		styles.Box.Render(m.VUsLine.View()),
	))
	s.WriteString("\n\n")

	latencies := fmt.Sprintf(
		"P50: %.2f ms  |  P90: %.2f ms  |  P95: %.2f ms  |  P99: %.2f ms  |  Max: %.2f ms",
		sum.Latency.P50, sum.Latency.P90, sum.Latency.P95, sum.Latency.P99, sum.Latency.Max,
	)
	box := styles.Box
	if m.Width > 4 {
		box = box.Width(m.Width - 4)
	}
	s.WriteString(box.Render(latencies))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())
	s.WriteString(fmt.Sprintf("  %s / %s", m.Stats.Elapsed.Round(time.Second), m.Stats.Duration))
	s.WriteString("\n\n")

	if m.Stopping {
		s.WriteString(styles.Warn.Render(fmt.Sprintf("Stopping, waiting for %d in-flight requests...", m.Stats.Inflight)))
	} else {
		s.WriteString(styles.RenderKey("q", "stop run"))
	}
	return s.String()
}

package history

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"rampcheck/internal/report"
	"rampcheck/internal/tui/result"
	"rampcheck/internal/tui/styles"
)

// Model lists past runs; enter opens the selected one.
type Model struct {
	Items []report.Report
	Table table.Model

	Detail   *result.Model
	Quitting bool

	Width  int
	Height int
}

func NewModel(items []report.Report) Model {
	columns := []table.Column{
		{Title: "Run", Width: 10},
		{Title: "Time", Width: 20},
		{Title: "Target", Width: 30},
		{Title: "Reqs", Width: 10},
		{Title: "Success", Width: 9},
		{Title: "P95 (ms)", Width: 10},
		{Title: "Verdict", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(styles.TableStyles())

	m := Model{Items: items, Table: t}
	m.Table.SetRows(rows(items))
	return m
}

func rows(items []report.Report) []table.Row {
	out := make([]table.Row, len(items))
	for i, item := range items {
		verdict := "pass"
		if !item.Verdict.Passed {
			verdict = "FAIL"
		}
		id := item.RunID
		if len(id) > 8 {
			id = id[:8]
		}
		out[i] = table.Row{
			id,
			item.StartedAt.Local().Format(time.DateTime),
			item.Target,
			fmt.Sprintf("%d", item.Summary.Total),
			fmt.Sprintf("%.1f%%", item.Summary.SuccessRate()*100),
			fmt.Sprintf("%.2f", item.Summary.Latency.P95),
			verdict,
		}
	}
	return out
}

// Selected returns the run under the cursor.
func (m Model) Selected() (report.Report, bool) {
	idx := m.Table.Cursor()
	if idx < 0 || idx >= len(m.Items) {
		return report.Report{}, false
	}
	return m.Items[idx], true
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)
		if msg.Height > 8 {
			m.Table.SetHeight(msg.Height - 8)
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.Quitting = true
			return m, tea.Quit
		case "esc", "backspace":
			m.Detail = nil
			return m, nil
		case "enter":
			if m.Detail == nil {
				if rep, ok := m.Selected(); ok {
					d := result.NewModel(rep, nil)
					m.Detail = &d
				}
				return m, nil
			}
		}
	}

	if m.Detail != nil {
		d, c := m.Detail.Update(msg)
		m.Detail = &d
		return m, c
	}
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}
	if m.Detail != nil {
		return m.Detail.View() + "  " + styles.RenderKey("esc", "back")
	}

	s := styles.Title.Render("📜 Past Runs") + "\n\n"
	if len(m.Items) == 0 {
		s += styles.Subtle.Render("No history found.\nRun a test to generate data.")
	} else {
		s += styles.Box.Render(m.Table.View())
	}
	s += "\n\n" + styles.RenderKey("enter", "details") + "  " + styles.RenderKey("q", "quit")
	return s
}

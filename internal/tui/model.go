package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rampcheck/internal/config"
	"rampcheck/internal/logging"
	"rampcheck/internal/report"
	"rampcheck/internal/runner"
	"rampcheck/internal/session"
	"rampcheck/internal/tui/live"
	"rampcheck/internal/tui/result"
	"rampcheck/internal/tui/setup"
	"rampcheck/internal/tui/styles"
)

type state int

const (
	stateSetup state = iota
	stateLive
	stateResult
)

type runDoneMsg struct {
	rep report.Report
	err error
}

// Model walks through setup, the live run and the result view.
type Model struct {
	Session *session.Session
	Updates runner.StatsUpdateChan

	Setup  setup.Model
	Live   live.Model
	Result result.Model

	Report report.Report
	Err    error
	Done   bool

	state  state
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	Width  int
	Height int
}

// NewModel opens on the setup form prefilled from f.
func NewModel(ctx context.Context, f config.File) Model {
	return Model{
		Setup:  setup.NewModel(f),
		state:  stateSetup,
		parent: ctx,
		cancel: func() {},
	}
}

// start builds the session for plan and switches to the live view.
func (m Model) start(plan *config.Plan) (Model, error) {
	updates := make(runner.StatsUpdateChan, 100)
	s, err := session.New(plan, logging.Discard(), updates)
	if err != nil {
		return m, err
	}
	m.Session = s
	m.Updates = updates
	m.Live = live.NewModel(plan.Profile)
	if m.Width > 0 {
		m.Live, _ = m.Live.Update(tea.WindowSizeMsg{Width: m.Width, Height: m.Height})
	}
	m.ctx, m.cancel = context.WithCancel(m.parent)
	m.done = make(chan struct{})
	m.state = stateLive
	return m, nil
}

func (m Model) Init() tea.Cmd {
	if m.state == stateSetup {
		return m.Setup.Init()
	}
	return tea.Batch(m.runCmd(), m.waitForUpdate())
}

func (m Model) runCmd() tea.Cmd {
	s, ctx, done := m.Session, m.ctx, m.done
	return func() tea.Msg {
		defer close(done)
		rep, err := s.Run(ctx)
		return runDoneMsg{rep: rep, err: err}
	}
}

func (m Model) waitForUpdate() tea.Cmd {
	updates, done := m.Updates, m.done
	return func() tea.Msg {
		select {
		case snap := <-updates:
			return snap
		case <-done:
			return nil
		}
	}
}

func (m Model) submit() (Model, tea.Cmd) {
	m.Setup.Submitted = false
	f, err := m.Setup.Apply()
	if err != nil {
		m.Setup.Err = err
		return m, nil
	}
	plan, err := f.Build()
	if err != nil {
		m.Setup.Err = err
		return m, nil
	}
	next, err := m.start(plan)
	if err != nil {
		m.Setup.Err = err
		return m, nil
	}
	return next, tea.Batch(next.runCmd(), next.waitForUpdate())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		var c1, c2, c3 tea.Cmd
		m.Setup, c1 = m.Setup.Update(msg)
		m.Live, c2 = m.Live.Update(msg)
		m.Result, c3 = m.Result.Update(msg)
		return m, tea.Batch(c1, c2, c3)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.state == stateLive && !m.Live.Stopping {
				m.Live.Stopping = true
				m.cancel()
				return m, nil
			}
			m.cancel()
			return m, tea.Quit
		case "esc":
			if m.state == stateSetup {
				return m, tea.Quit
			}
		}
		if m.state == stateSetup {
			var cmd tea.Cmd
			m.Setup, cmd = m.Setup.Update(msg)
			if m.Setup.Submitted {
				return m.submit()
			}
			return m, cmd
		}
		switch msg.String() {
		case "q", "esc":
			if m.state == stateResult {
				return m, tea.Quit
			}
			if !m.Live.Stopping {
				m.Live.Stopping = true
				m.cancel()
			}
			return m, nil
		}

	case runner.StatsSnapshot:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		return m, tea.Batch(cmd, m.waitForUpdate())

	case runDoneMsg:
		m.cancel()
		m.Report, m.Err, m.Done = msg.rep, msg.err, true
		m.state = stateResult
		m.Result = result.NewModel(msg.rep, msg.err)
		m.Result, _ = m.Result.Update(tea.WindowSizeMsg{Width: m.Width, Height: m.Height})
		return m, nil
	}

	var cmd tea.Cmd
	switch m.state {
	case stateSetup:
		m.Setup, cmd = m.Setup.Update(msg)
	case stateLive:
		m.Live, cmd = m.Live.Update(msg)
	case stateResult:
		m.Result, cmd = m.Result.Update(msg)
	}
	return m, cmd
}

func (m Model) View() string {
	target := m.Setup.File.Target.URL
	if m.Session != nil {
		target = m.Session.Plan.Runner.BaseURL
	}
	header := styles.Title.Render("🚀 rampcheck") + "  " + styles.Subtle.Render(target)

	var body string
	switch m.state {
	case stateSetup:
		body = m.Setup.View()
	case stateResult:
		body = m.Result.View()
	default:
		body = m.Live.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, "", body)
}

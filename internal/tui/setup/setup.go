package setup

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rampcheck/internal/config"
	"rampcheck/internal/tui/styles"
)

const (
	fieldURL = iota
	fieldToken
	fieldStages
	fieldTimeout
	numFields
)

type Field struct {
	Label string
	Input textinput.Model
}

// Model is the pre-run form. It edits the handful of settings people change
// between runs; everything else comes from the config file.
type Model struct {
	File config.File

	Fields    []Field
	Focus     int
	Submitted bool
	Err       error

	Width  int
	Height int
}

func NewModel(f config.File) Model {
	m := Model{
		File:   f,
		Fields: make([]Field, numFields),
	}

	url := textinput.New()
	url.Placeholder = config.DefaultBaseURL
	url.SetValue(f.Target.URL)
	url.Width = 50
	m.Fields[fieldURL] = Field{Label: "Target URL", Input: url}

	token := textinput.New()
	token.Placeholder = "JWT"
	token.SetValue(f.Target.Token)
	token.EchoMode = textinput.EchoPassword
	token.Width = 50
	m.Fields[fieldToken] = Field{Label: "Bearer token", Input: token}

	stages := textinput.New()
	stages.Placeholder = "10s:50, 10s:100, 30s:100, 10s:0"
	stages.SetValue(strings.Join(f.Stages, ", "))
	stages.Width = 50
	m.Fields[fieldStages] = Field{Label: "Stages (duration:VUs)", Input: stages}

	timeout := textinput.New()
	timeout.Placeholder = "10s"
	timeout.SetValue(f.Target.Timeout.String())
	timeout.Width = 10
	m.Fields[fieldTimeout] = Field{Label: "Request timeout", Input: timeout}

	m.focus(0)
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Model) focus(i int) {
	if i > len(m.Fields)-1 {
		i = 0
	} else if i < 0 {
		i = len(m.Fields) - 1
	}
	m.Focus = i

	for j := range m.Fields {
		if j == m.Focus {
			m.Fields[j].Input.Focus()
			m.Fields[j].Input.PromptStyle = styles.Active
			m.Fields[j].Input.TextStyle = styles.Active
		} else {
			m.Fields[j].Input.Blur()
			m.Fields[j].Input.PromptStyle = lipgloss.NewStyle()
			m.Fields[j].Input.TextStyle = lipgloss.NewStyle()
		}
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch s := msg.String(); s {
		case "ctrl+s":
			m.Submitted = true
			return m, nil
		case "enter":
			if m.Focus == len(m.Fields)-1 {
				m.Submitted = true
				return m, nil
			}
			m.focus(m.Focus + 1)
			return m, nil
		case "tab", "down":
			m.focus(m.Focus + 1)
			return m, nil
		case "shift+tab", "up":
			m.focus(m.Focus - 1)
			return m, nil
		}
	}

	cmds := make([]tea.Cmd, 0, len(m.Fields))
	for i := range m.Fields {
		var cmd tea.Cmd
		m.Fields[i].Input, cmd = m.Fields[i].Input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// Apply copies the form values onto the file it was built from.
func (m Model) Apply() (config.File, error) {
	f := m.File
	f.Target.URL = strings.TrimSpace(m.Fields[fieldURL].Input.Value())
	f.Target.Token = strings.TrimSpace(m.Fields[fieldToken].Input.Value())

	f.Stages = strings.FieldsFunc(m.Fields[fieldStages].Input.Value(), func(r rune) bool {
		return r == ',' || r == ' '
	})

	if v := strings.TrimSpace(m.Fields[fieldTimeout].Input.Value()); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return f, fmt.Errorf("request timeout: %w", err)
		}
		f.Target.Timeout = d
	}
	return f, nil
}

func (m Model) View() string {
	s := strings.Builder{}

	s.WriteString(styles.Title.Render("🛠️  Run setup"))
	s.WriteString("\n\n")

	for i := range m.Fields {
		s.WriteString(styles.Subtle.Render(m.Fields[i].Label))
		s.WriteString("\n")
		s.WriteString(m.Fields[i].Input.View())
		s.WriteString("\n\n")
	}

	if m.Err != nil {
		s.WriteString(styles.Error.Render(m.Err.Error()))
		s.WriteString("\n\n")
	}

	s.WriteString(styles.RenderKey("ctrl+s", "start") + "  " + styles.RenderKey("tab", "next field") + "  " + styles.RenderKey("esc", "quit"))

	return styles.Box.Render(s.String())
}

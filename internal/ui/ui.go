// Package ui renders the terminal front end for voxterm.
//
// The model polls the session controller on an animation tick for the
// intensity meter, and additionally accepts pushed StateChangedMsg /
// SpeakingChangedMsg values so lifecycle transitions repaint immediately
// instead of waiting for the next tick.
package ui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/voxterm/voxterm/internal/app"
)

// tickInterval paces meter repaints at roughly 30 fps.
const tickInterval = 33 * time.Millisecond

// meterWidth is the intensity bar width in cells.
const meterWidth = 30

// Controller is the slice of app.Controller the UI drives. Narrowed for
// testing.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	State() (app.State, string)
	Speaking() bool
	Intensity() float64
	SetMuted(muted bool)
	Muted() bool
	Instructions() string
	SetInstructions(text string)
}

// ── Messages ──────────────────────────────────────────────────────────────

// StateChangedMsg is pushed by the controller's state callback.
type StateChangedMsg struct {
	State  app.State
	ErrMsg string
}

// SpeakingChangedMsg is pushed when the assistant starts or stops speaking.
type SpeakingChangedMsg struct {
	Speaking bool
}

type tickMsg time.Time

type startResultMsg struct {
	err error
}

// ── Key bindings ──────────────────────────────────────────────────────────

type keyMap struct {
	Start        key.Binding
	Stop         key.Binding
	Mute         key.Binding
	Instructions key.Binding
	Quit         key.Binding

	Save   key.Binding
	Cancel key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Start: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start"),
		),
		Stop: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "stop"),
		),
		Mute: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "mute"),
		),
		Instructions: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "instructions"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Save: key.NewBinding(
			key.WithKeys("ctrl+s"),
			key.WithHelp("ctrl+s", "save"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Mute, k.Instructions, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// ── Styles ────────────────────────────────────────────────────────────────

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))

	stateStyles = map[app.State]lipgloss.Style{
		app.StateDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		app.StateConnecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		app.StateConnected:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		app.StateError:        lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}

	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	speakingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	meterOnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	meterOffStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	faintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// ── Model ─────────────────────────────────────────────────────────────────

// Model is the bubbletea model for the voice terminal.
type Model struct {
	ctrl Controller
	keys keyMap
	help help.Model

	state     app.State
	errMsg    string
	speaking  bool
	intensity float64

	editing bool
	editor  textarea.Model

	width int
}

// New builds the initial model around the session controller.
func New(ctrl Controller) Model {
	ed := textarea.New()
	ed.Placeholder = "System instructions for the assistant..."
	ed.SetHeight(5)
	ed.CharLimit = 0

	state, errMsg := ctrl.State()
	return Model{
		ctrl:   ctrl,
		keys:   defaultKeyMap(),
		help:   help.New(),
		state:  state,
		errMsg: errMsg,
		editor: ed,
	}
}

// Init starts the repaint ticker.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// startSession dials in a command goroutine so the UI never blocks on the
// connect.
func (m Model) startSession() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return startResultMsg{err: ctrl.Start(context.Background())}
	}
}

// Update handles key presses, pushed lifecycle events, and the meter tick.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.editor.SetWidth(min(msg.Width-4, 72))
		return m, nil

	case tickMsg:
		m.intensity = m.ctrl.Intensity()
		m.state, m.errMsg = m.ctrl.State()
		m.speaking = m.ctrl.Speaking()
		return m, tick()

	case StateChangedMsg:
		m.state = msg.State
		m.errMsg = msg.ErrMsg
		return m, nil

	case SpeakingChangedMsg:
		m.speaking = msg.Speaking
		return m, nil

	case startResultMsg:
		// The error is already reflected in the controller state; nothing
		// extra to render here.
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			return m.updateEditor(msg)
		}
		return m.updateMain(msg)
	}
	return m, nil
}

func (m Model) updateMain(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.ctrl.Stop()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Start):
		return m, m.startSession()

	case key.Matches(msg, m.keys.Stop):
		m.ctrl.Stop()
		return m, nil

	case key.Matches(msg, m.keys.Mute):
		m.ctrl.SetMuted(!m.ctrl.Muted())
		return m, nil

	case key.Matches(msg, m.keys.Instructions):
		m.editing = true
		m.editor.SetValue(m.ctrl.Instructions())
		return m, m.editor.Focus()
	}
	return m, nil
}

func (m Model) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Save):
		m.ctrl.SetInstructions(m.editor.Value())
		m.editing = false
		m.editor.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Cancel):
		m.editing = false
		m.editor.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	return m, cmd
}

// View renders the status line, the intensity meter, and either the help
// line or the instructions editor.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("voxterm"))
	b.WriteString("\n\n")

	b.WriteString("  status: ")
	b.WriteString(stateStyles[m.state].Render(m.state.String()))
	if m.state == app.StateError && m.errMsg != "" {
		b.WriteString("  ")
		b.WriteString(errStyle.Render(m.errMsg))
	}
	b.WriteString("\n")

	b.WriteString("  mic:    ")
	b.WriteString(renderMeter(m.intensity))
	if m.ctrl.Muted() {
		b.WriteString("  ")
		b.WriteString(mutedStyle.Render("MUTED"))
	}
	b.WriteString("\n")

	b.WriteString("  ")
	if m.speaking {
		b.WriteString(speakingStyle.Render("● assistant speaking"))
	} else {
		b.WriteString(faintStyle.Render("○ assistant idle"))
	}
	b.WriteString("\n\n")

	if m.editing {
		b.WriteString("  instructions (applies on next start)\n")
		b.WriteString(m.editor.View())
		b.WriteString("\n")
		b.WriteString(faintStyle.Render("  ctrl+s save · esc cancel"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

// renderMeter draws the microphone intensity as a fixed-width block bar.
func renderMeter(intensity float64) string {
	if intensity < 0 {
		intensity = 0
	}
	if intensity > 1 {
		intensity = 1
	}
	filled := int(intensity * meterWidth)
	return meterOnStyle.Render(strings.Repeat("█", filled)) +
		meterOffStyle.Render(strings.Repeat("░", meterWidth-filled))
}

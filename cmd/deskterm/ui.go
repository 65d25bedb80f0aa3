package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxScrollback = 2000

// sessionClient is the slice of terminal.Client the UI drives.
type sessionClient interface {
	InitSession(ctx context.Context) bool
	ExecuteCommand(command string)
	OnOutput(cb func(string)) func()
	Resize(rows, cols int) bool
	EndSession(ctx context.Context)
	IsSessionValid() bool
	IsConnected() bool
}

type outputMsg string
type initResultMsg bool
type endedMsg struct{}
type statusTickMsg time.Time

type theme struct {
	Header  lipgloss.Style
	Frame   lipgloss.Style
	Muted   lipgloss.Style
	Prompt  lipgloss.Style
	Online  lipgloss.Style
	Offline lipgloss.Style
	Danger  lipgloss.Style
}

func defaultTheme() theme {
	accent := lipgloss.Color("#00FFFF")
	secondary := lipgloss.Color("#7D7D7D")
	return theme{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(accent),
		Frame:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(secondary).Padding(0, 1),
		Muted:   lipgloss.NewStyle().Foreground(secondary),
		Prompt:  lipgloss.NewStyle().Foreground(accent),
		Online:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Offline: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFBF00")),
		Danger:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0055")),
	}
}

type model struct {
	client  sessionClient
	output  chan string
	dispose func()
	theme   theme

	lines   []string
	partial string
	input   []rune
	width   int
	height  int

	connected bool
	valid     bool
	starting  bool
}

func newModel(client sessionClient) model {
	out := make(chan string, 256)
	dispose := client.OnOutput(func(text string) {
		out <- text
	})
	return model{
		client:   client,
		output:   out,
		dispose:  dispose,
		theme:    defaultTheme(),
		starting: true,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(initCmd(m.client), waitForOutput(m.output), statusTick())
}

func initCmd(c sessionClient) tea.Cmd {
	return func() tea.Msg {
		return initResultMsg(c.InitSession(context.Background()))
	}
}

func endCmd(c sessionClient) tea.Cmd {
	return func() tea.Msg {
		c.EndSession(context.Background())
		return endedMsg{}
	}
}

func waitForOutput(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		return outputMsg(<-ch)
	}
}

func statusTick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		rows, cols := m.viewport()
		m.client.Resize(rows, cols)
		return m, nil
	case outputMsg:
		m = m.appendOutput(string(msg))
		return m, waitForOutput(m.output)
	case initResultMsg:
		m.starting = false
		if !bool(msg) {
			m = m.appendLine(m.theme.Danger.Render("Error: could not start a terminal session; the next command retries"))
		}
		return m, nil
	case endedMsg:
		m = m.appendLine(m.theme.Muted.Render("session ended"))
		return m, nil
	case statusTickMsg:
		m.connected = m.client.IsConnected()
		m.valid = m.client.IsSessionValid()
		return m, statusTick()
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.Type {
	case tea.KeyCtrlC:
		if m.dispose != nil {
			m.dispose()
		}
		return m, tea.Quit
	case tea.KeyCtrlE:
		return m, endCmd(m.client)
	case tea.KeyEnter:
		line := string(m.input)
		m.input = m.input[:0]
		m = m.appendLine(m.theme.Prompt.Render("$ ") + line)
		m.client.ExecuteCommand(line)
		return m, nil
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	case tea.KeySpace:
		m.input = append(m.input, ' ')
		return m, nil
	case tea.KeyRunes:
		m.input = append(m.input, k.Runes...)
		return m, nil
	}
	return m, nil
}

// appendOutput splits shell output into lines, holding back an unterminated
// tail until more arrives.
func (m model) appendOutput(text string) model {
	text = m.partial + strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n")
	m.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		m = m.appendLine(strings.TrimRight(line, "\r"))
	}
	return m
}

func (m model) appendLine(line string) model {
	m.lines = append(m.lines, line)
	if over := len(m.lines) - maxScrollback; over > 0 {
		m.lines = append([]string(nil), m.lines[over:]...)
	}
	return m
}

// viewport is the shell area inside the frame, header, and prompt.
func (m model) viewport() (rows, cols int) {
	rows = m.height - 5
	cols = m.width - 4
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	return rows, cols
}

func (m model) statusLine() string {
	switch {
	case m.starting:
		return m.theme.Offline.Render("starting")
	case m.connected:
		return m.theme.Online.Render("connected")
	case m.valid:
		return m.theme.Offline.Render("reconnecting")
	default:
		return m.theme.Muted.Render("no session")
	}
}

func (m model) View() string {
	rows, cols := m.viewport()
	visible := m.lines
	if m.partial != "" {
		visible = append(append([]string(nil), visible...), m.partial)
	}
	if len(visible) > rows-1 {
		visible = visible[len(visible)-(rows-1):]
	}

	header := fmt.Sprintf("%s  %s  %s",
		m.theme.Header.Render("deskterm"),
		m.statusLine(),
		m.theme.Muted.Render("enter: run  ctrl+e: end session  ctrl+c: quit"))
	body := strings.Join(visible, "\n")
	prompt := m.theme.Prompt.Render("> ") + string(m.input)
	frame := m.theme.Frame
	if m.width > 0 {
		frame = frame.Width(cols)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, frame.Render(body+"\n"+prompt))
}

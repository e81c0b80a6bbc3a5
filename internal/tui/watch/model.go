// Package watch is a terminal monitor for a running symgate instance. It
// polls /healthz and /admin/recent and renders queue depth plus the recent
// transcode log.
package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// Model is the bubbletea model for the watch TUI.
type Model struct {
	client *apiClient

	width  int
	height int

	health    healthData
	healthOK  bool
	attempts  []attemptData
	lastError string

	spinner spinner.Model
	table   table.Model
}

// New creates a watch model polling the symgate API at baseURL.
func New(baseURL, apiKey string) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "When", Width: 10},
			{Title: "Artifact", Width: 24},
			{Title: "Version", Width: 9},
			{Title: "Outcome", Width: 18},
			{Title: "ms", Width: 8},
		}),
		table.WithHeight(15),
	)

	return &Model{
		client:  newAPIClient(baseURL, apiKey),
		spinner: sp,
		table:   tbl,
	}
}

type tickMsg time.Time

type statusMsg struct {
	health   healthData
	attempts []attemptData
	err      error
}

func (m *Model) poll() tea.Msg {
	health, err := m.client.health()
	if err != nil {
		return statusMsg{err: err}
	}
	attempts, err := m.client.recent(50)
	if err != nil {
		// Admin may be disabled; keep the health pane alive.
		return statusMsg{health: health, err: err}
	}
	return statusMsg{health: health, attempts: attempts}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.poll,
		tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(maxInt(5, m.height-8))
		return m, nil

	case tickMsg:
		return m, tea.Batch(
			m.poll,
			tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case statusMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
		} else {
			m.lastError = ""
		}
		if msg.health.Status != "" {
			m.health = msg.health
			m.healthOK = true
		}
		if msg.attempts != nil {
			m.attempts = msg.attempts
			m.table.SetRows(attemptRows(msg.attempts))
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) View() string {
	header := headerStyle.Render("symgate watch") + "  " + m.spinner.View()

	var status string
	if m.healthOK {
		status = fmt.Sprintf("%s  %s %d  %s %d  %s %s  %s %s",
			okStyle.Render(m.health.Status),
			labelStyle.Render("queued:"), m.health.QueueDepth,
			labelStyle.Render("in-flight:"), m.health.PendingTranscodes,
			labelStyle.Render("transcoder:"), m.health.TranscoderVersion,
			labelStyle.Render("up:"), (time.Duration(m.health.UptimeSeconds) * time.Second).String(),
		)
	} else {
		status = labelStyle.Render("waiting for first health report")
	}

	view := header + "\n" + status + "\n\n" + m.table.View()
	if m.lastError != "" {
		view += "\n" + errorStyle.Render("error: "+m.lastError)
	}
	view += "\n" + labelStyle.Render("q to quit")
	return view
}

func attemptRows(attempts []attemptData) []table.Row {
	rows := make([]table.Row, 0, len(attempts))
	for _, a := range attempts {
		outcome := a.Outcome
		if a.Outcome == "succeeded" {
			outcome = okStyle.Render(outcome)
		} else {
			outcome = failStyle.Render(outcome)
		}
		rows = append(rows, table.Row{
			a.CreatedAt.Local().Format("15:04:05"),
			fmt.Sprintf("%s/%d", a.Name, a.Age),
			a.Version,
			outcome,
			fmt.Sprintf("%d", a.DurationMS),
		})
	}
	return rows
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/spanlink/internal/api"
	"github.com/mattjoyce/spanlink/internal/events"
)

const (
	pollInterval   = time.Second
	healthInterval = 5 * time.Second
	maxEventLog    = 50
)

// Model follows one root job until it reaches COMPLETED or FAILED.
type Model struct {
	apiURL string
	apiKey string
	jobID  string

	width  int
	height int

	job      *api.JobResponse
	health   HealthState
	eventLog []events.Event
	bar      progress.Model
	theme    Theme

	hubEvents chan events.Event

	lastError string
	finished  bool
}

// New creates a watch model for jobID served by the API at apiURL.
func New(apiURL, apiKey, jobID string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		jobID:     jobID,
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		bar:       progress.New(progress.WithDefaultGradient()),
		theme:     NewDefaultTheme(),
	}
}

// Job returns the last observed state of the root job, nil before the first poll.
func (m Model) Job() *api.JobResponse {
	return m.job
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.jobID, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.pollJob,
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
	)
}

func (m Model) pollJob() tea.Msg {
	return fetchJob(m.apiURL, m.apiKey, m.jobID)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case jobMsg:
		job := api.JobResponse(msg)
		m.job = &job
		m.health.Connected = true
		m.lastError = ""
		if job.Status == "COMPLETED" || job.Status == "FAILED" {
			m.finished = true
			return m, tea.Quit
		}
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return tickMsg{} })

	case tickMsg:
		return m, m.pollJob

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.HasQueue = msg.Queue != nil
		if msg.Queue != nil {
			m.health.Ready = msg.Queue.Ready
			m.health.InFlight = msg.Queue.InFlight
			m.health.Dead = msg.Queue.Dead
		}
		m.health.Connected = true
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.jobID, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return tickMsg{} })
	}

	return m, nil
}

func (m Model) View() string {
	width := m.width
	if width == 0 {
		width = 80
	}

	parts := []string{
		renderHeader(m.jobID, m.health, m.theme, width),
		renderJob(m.job, m.bar, m.theme, width),
	}
	if !m.finished {
		parts = append(parts, renderEventStream(m.eventLog, m.theme, width))
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	if !m.finished {
		parts = append(parts, m.theme.Dim.Render(" [q] Quit"))
	}

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

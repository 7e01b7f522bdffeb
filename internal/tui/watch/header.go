package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/spanlink/internal/api"
)

// HealthState tracks service health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Ready         int
	InFlight      int
	Dead          int
	HasQueue      bool
	Connected     bool
}

func renderHeader(jobID string, health HealthState, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := " SPANLINK WATCH " + theme.Accent.Render(jobID)
	pad := max(innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4, 1)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s", statusText, formatDuration(time.Duration(health.UptimeSeconds)*time.Second))
	if health.HasQueue {
		statsLine += fmt.Sprintf("  queue: %d ready, %d in flight, %d dead", health.Ready, health.InFlight, health.Dead)
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine))
}

func renderJob(job *api.JobResponse, bar progress.Model, theme Theme, width int) string {
	innerWidth := width - 4

	if job == nil {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("ROOT JOB"),
			theme.Dim.Render("  Loading..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	bar.Width = max(innerWidth-6, 10)
	status := string(job.Status)
	lines := []string{
		theme.Title.Render("ROOT JOB"),
		fmt.Sprintf("  text %s  %s", theme.Accent.Render(job.TextID), theme.StatusStyle(status).Render(status)),
		"  " + bar.ViewAs(fraction(job.CompletedSegments, job.TotalSegments)),
		theme.Dim.Render(fmt.Sprintf("  %d / %d segments", job.CompletedSegments, job.TotalSegments)),
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func fraction(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return min(float64(done)/float64(total), 1)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

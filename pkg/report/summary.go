package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	styleSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	styleRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	styleCancelled = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	styleSkipped   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	styleDetail    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	styleHeader    = lipgloss.NewStyle().Bold(true).Underline(true)
)

func statusStyle(s Status) lipgloss.Style {
	switch s {
	case StatusSucceeded:
		return styleSucceeded
	case StatusFailed:
		return styleFailed
	case StatusRunning, StatusRunnable:
		return styleRunning
	case StatusCancelled, StatusCancelledTimeout:
		return styleCancelled
	default:
		return styleSkipped
	}
}

func statusIcon(s Status) string {
	switch s {
	case StatusSucceeded:
		return "✓"
	case StatusFailed:
		return "✗"
	case StatusCancelled, StatusCancelledTimeout:
		return "⊘"
	case StatusSkipped:
		return "-"
	default:
		return "…"
	}
}

// Summary renders a human-readable overview of a run.
func Summary(w io.Writer, result RunResult) error {
	var b strings.Builder

	title := result.Workflow
	if title == "" {
		title = "workflow"
	}
	b.WriteString(styleHeader.Render(title))
	if result.Event.Name != "" {
		b.WriteString(styleDetail.Render(fmt.Sprintf(" (%s %s)", result.Event.Name, result.Event.Branch)))
	}
	b.WriteString("\n")

	width := 0
	for _, j := range result.Jobs {
		width = max(width, lipgloss.Width(j.ID))
	}
	idStyle := lipgloss.NewStyle().Width(width + 2)

	for _, j := range result.Jobs {
		style := statusStyle(j.Status)
		line := style.Render(statusIcon(j.Status)) + " " + idStyle.Render(j.ID) + style.Render(string(j.Status))
		if d := j.Duration(); d > 0 {
			line += styleDetail.Render(" " + d.Round(time.Millisecond).String())
		}
		if j.Reason != "" {
			line += styleDetail.Render(" (" + j.Reason + ")")
		}
		if !j.Required {
			line += styleDetail.Render(" [optional]")
		}
		b.WriteString(line + "\n")

		if j.Status == StatusSkipped || j.Status == StatusCancelled {
			continue
		}
		for _, s := range j.Steps {
			step := "    " + statusStyle(s.Status).Render(statusIcon(s.Status)) + " " + s.Name
			if s.Masked {
				step += styleDetail.Render(" (failure ignored)")
			}
			if s.ErrorKind != "" && s.ErrorKind != ErrorExitCode {
				step += styleDetail.Render(" [" + string(s.ErrorKind) + "]")
			} else if s.ExitCode != nil && *s.ExitCode != 0 {
				step += styleDetail.Render(fmt.Sprintf(" [exit %d]", *s.ExitCode))
			}
			b.WriteString(step + "\n")
		}
	}

	outcome := styleSucceeded
	if result.Outcome != OutcomeSuccess {
		outcome = styleFailed
	}
	b.WriteString("\n" + outcome.Render("outcome: "+string(result.Outcome)) + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

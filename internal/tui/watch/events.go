package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/events"
)

const eventLogSize = 50

func renderEventStream(eventLog []events.Event, theme Theme, width, rows int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	typeName := eventStyle(e, theme).Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

func eventStyle(e events.Event, theme Theme) lipgloss.Style {
	switch e.Type {
	case events.CommandStarted:
		return theme.StatusRunning
	case events.CommandSkipped, events.CommandCanceled, events.TriggerSkipped:
		return theme.StatusDead
	case events.TriggerScheduled, events.ServiceStarted, events.ServiceStopped:
		return theme.Highlight
	case events.CommandFinished:
		var data events.CommandData
		_ = json.Unmarshal(e.Data, &data)
		switch data.Outcome {
		case command.Succeeded.String():
			return theme.StatusOK
		case "":
			return theme.Dim
		default:
			return theme.StatusFailed
		}
	default:
		return theme.Dim
	}
}

// describeEvent renders a one-line summary of a command event payload,
// falling back to the truncated raw payload for other events.
func describeEvent(e events.Event) string {
	var data events.CommandData
	if err := json.Unmarshal(e.Data, &data); err != nil || data.Type == "" {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	parts := []string{fmt.Sprintf("#%d", data.ID), data.Type, data.Account}
	if data.Outcome != "" {
		parts = append(parts, data.Outcome)
	}
	if data.Destination != "" {
		parts = append(parts, "-> "+data.Destination)
	}
	if data.Message != "" {
		parts = append(parts, data.Message)
	}
	return strings.Join(parts, " ")
}

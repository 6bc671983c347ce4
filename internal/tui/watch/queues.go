package watch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/courier/internal/queue"
)

const executingLabel = "executing"

func newQueueTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Queue", Width: 9},
			{Title: "ID", Width: 6},
			{Title: "Type", Width: 20},
			{Title: "Account", Width: 14},
			{Title: "Target", Width: 16},
			{Title: "Ready", Width: 9},
			{Title: "Result", Width: 36},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// queueRows flattens a snapshot into table rows: executing commands
// first, then each queue in processing order.
func queueRows(snap queue.Snapshot, now time.Time) []table.Row {
	var rows []table.Row
	for _, e := range snap.Executing {
		rows = append(rows, entryRow(executingLabel, e, now))
	}
	for _, qt := range queue.Types() {
		for _, e := range snap.Queues[qt] {
			rows = append(rows, entryRow(qt.String(), e, now))
		}
	}
	return rows
}

func entryRow(label string, e queue.Entry, now time.Time) table.Row {
	target := string(e.Timeline)
	switch {
	case e.EntityID != "":
		target = e.EntityID
	case e.Query != "":
		target = strconv.Quote(e.Query)
	}

	ready := "now"
	if e.ReadyAt != nil && e.ReadyAt.After(now) {
		ready = "in " + formatDuration(e.ReadyAt.Sub(now))
	}
	if label == executingLabel {
		ready = "-"
	}

	return table.Row{
		label,
		strconv.FormatInt(e.ID, 10),
		string(e.Type),
		e.Account,
		target,
		ready,
		e.Summary,
	}
}

// renderQueueCounts renders one colored counter per queue.
func renderQueueCounts(snap queue.Snapshot, theme Theme) string {
	parts := []string{
		theme.QueueStyle(executingLabel).Render(fmt.Sprintf("%s %d", executingLabel, len(snap.Executing))),
	}
	for _, qt := range queue.Types() {
		name := qt.String()
		parts = append(parts, theme.QueueStyle(name).Render(fmt.Sprintf("%s %d", name, len(snap.Queues[qt]))))
	}
	return " " + strings.Join(parts, "  ")
}

func renderQueues(t table.Model, snap queue.Snapshot, theme Theme, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("QUEUES"),
		renderQueueCounts(snap, theme),
		t.View(),
	)
	return theme.Border.Width(width - 4).Render(content)
}

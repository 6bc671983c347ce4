// Package inspect renders the attempt trail of a single command from the
// command log.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/courier/internal/runner"
)

// ErrNotFound is returned when the command log holds no attempts for an id.
var ErrNotFound = errors.New("no attempts recorded for command")

// AttemptLister reads the recorded attempts of one command, oldest first.
type AttemptLister interface {
	ForCommand(ctx context.Context, commandID int64) ([]runner.HistoryEntry, error)
}

// Report is the structured JSON representation of a command trace.
type Report struct {
	CommandID   int64         `json:"command_id"`
	Type        string        `json:"type"`
	Account     string        `json:"account"`
	Key         string        `json:"key"`
	Outcome     string        `json:"outcome"`
	Destination string        `json:"destination"`
	Attempts    int           `json:"attempts"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Steps       []Step        `json:"steps"`
}

// Step is one execution attempt.
type Step struct {
	Attempt     int       `json:"attempt"`
	ExecutionID string    `json:"execution_id"`
	Outcome     string    `json:"outcome"`
	Destination string    `json:"destination"`
	RetriesLeft int       `json:"retries_left"`
	Message     string    `json:"message,omitempty"`
	Downloaded  int       `json:"downloaded"`
	New         int       `json:"new"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// BuildReport renders a terminal-friendly trace for a command.
func BuildReport(ctx context.Context, h AttemptLister, commandID int64) (string, error) {
	report, err := gatherReportData(ctx, h, commandID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Command Trace\n")
	fmt.Fprintf(&out, "Command ID  : %d\n", report.CommandID)
	fmt.Fprintf(&out, "Type        : %s\n", report.Type)
	fmt.Fprintf(&out, "Account     : %s\n", report.Account)
	fmt.Fprintf(&out, "Key         : %s\n", report.Key)
	fmt.Fprintf(&out, "Outcome     : %s -> %s\n", report.Outcome, report.Destination)
	fmt.Fprintf(&out, "Attempts    : %d over %s\n", report.Attempts, report.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s %s -> %s\n", step.Attempt,
			step.StartedAt.UTC().Format(time.RFC3339), step.Outcome, step.Destination)
		fmt.Fprintf(&out, "    execution  : %s\n", step.ExecutionID)
		fmt.Fprintf(&out, "    took       : %s\n", step.CompletedAt.Sub(step.StartedAt).Round(time.Millisecond))
		fmt.Fprintf(&out, "    retries    : %d left\n", step.RetriesLeft)
		if step.Downloaded > 0 || step.New > 0 {
			fmt.Fprintf(&out, "    items      : %d downloaded, %d new\n", step.Downloaded, step.New)
		}
		if step.Message != "" {
			fmt.Fprintf(&out, "    message    : %s\n", step.Message)
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON trace.
func BuildJSONReport(ctx context.Context, h AttemptLister, commandID int64) (string, error) {
	report, err := gatherReportData(ctx, h, commandID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, h AttemptLister, commandID int64) (*Report, error) {
	if commandID <= 0 {
		return nil, fmt.Errorf("command id must be positive")
	}

	entries, err := h.ForCommand(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w %d", ErrNotFound, commandID)
	}

	first, last := entries[0], entries[len(entries)-1]
	report := &Report{
		CommandID:   commandID,
		Type:        string(first.Type),
		Account:     first.Account,
		Key:         first.Key,
		Outcome:     last.Outcome,
		Destination: last.Destination,
		Attempts:    len(entries),
		Elapsed:     last.CompletedAt.Sub(first.StartedAt),
		Steps:       make([]Step, 0, len(entries)),
	}
	for _, e := range entries {
		report.Steps = append(report.Steps, Step{
			Attempt:     e.Attempt,
			ExecutionID: e.ExecutionID,
			Outcome:     e.Outcome,
			Destination: e.Destination,
			RetriesLeft: e.RetriesLeft,
			Message:     e.Message,
			Downloaded:  e.Downloaded,
			New:         e.New,
			StartedAt:   e.StartedAt,
			CompletedAt: e.CompletedAt,
		})
	}
	return report, nil
}

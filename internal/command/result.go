package command

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// DefaultRetryBudget is the number of automatic retries a command gets
// after soft errors before it is parked in the error queue.
const DefaultRetryBudget = 10

// Outcome is the classified end state of one execution attempt.
type Outcome int

const (
	Succeeded Outcome = iota
	SoftFailed
	HardFailed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case SoftFailed:
		return "soft_failed"
	case HardFailed:
		return "hard_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the execution and retry bookkeeping attached to a command.
type Result struct {
	ExecutionCount  int                      `json:"execution_count"`
	RetriesLeft     int                      `json:"retries_left"`
	LastExecutedAt  time.Time                `json:"last_executed_at"`
	LastDuration    time.Duration            `json:"last_duration,omitempty"`
	ExecutionID     string                   `json:"execution_id,omitempty"`
	HasSoftError    bool                     `json:"has_soft_error,omitempty"`
	HasHardError    bool                     `json:"has_hard_error,omitempty"`
	Message         string                   `json:"message,omitempty"`
	DownloadedCount int                      `json:"downloaded_count,omitempty"`
	NewCount        int                      `json:"new_count,omitempty"`
	Notifications   map[NotificationKind]int `json:"notifications,omitempty"`
}

// NewResult returns fresh bookkeeping with retryBudget retries.
func NewResult(retryBudget int) Result {
	if retryBudget < 0 {
		retryBudget = 0
	}
	return Result{RetriesLeft: retryBudget}
}

func (r Result) clone() Result {
	if r.Notifications != nil {
		r.Notifications = maps.Clone(r.Notifications)
	}
	return r
}

// PrepareForLaunch resets per-attempt state before an execution starts.
func (r *Result) PrepareForLaunch(now time.Time, executionID string) {
	r.ExecutionCount++
	r.LastExecutedAt = now
	r.ExecutionID = executionID
	r.LastDuration = 0
	r.HasSoftError = false
	r.HasHardError = false
	r.Message = ""
	r.DownloadedCount = 0
	r.NewCount = 0
	r.Notifications = nil
}

// Finalize records the classified outcome of the attempt and returns the
// effective outcome. A soft error with no retries left is promoted to a
// hard error. RetriesLeft never increases.
func (r *Result) Finalize(outcome Outcome, message string, now time.Time) Outcome {
	if !r.LastExecutedAt.IsZero() && now.After(r.LastExecutedAt) {
		r.LastDuration = now.Sub(r.LastExecutedAt)
	}
	r.Message = message

	switch outcome {
	case Succeeded:
		r.HasSoftError = false
		r.HasHardError = false
		return Succeeded
	case SoftFailed:
		if r.RetriesLeft > 0 {
			r.RetriesLeft--
			r.HasSoftError = true
			r.HasHardError = false
			return SoftFailed
		}
		r.HasSoftError = true
		r.HasHardError = true
		if message == "" {
			r.Message = "retry limit exceeded"
		} else {
			r.Message = "retry limit exceeded: " + message
		}
		return HardFailed
	default:
		r.HasHardError = true
		return HardFailed
	}
}

// Outcome derives the outcome from the error flags.
func (r Result) Outcome() Outcome {
	switch {
	case r.HasHardError:
		return HardFailed
	case r.HasSoftError:
		return SoftFailed
	default:
		return Succeeded
	}
}

// ShouldRetry reports whether the last attempt left the command retryable.
func (r Result) ShouldRetry() bool {
	return r.HasSoftError && !r.HasHardError
}

// AddNotification bumps the counter for kind.
func (r *Result) AddNotification(kind NotificationKind, n int) {
	if n == 0 {
		return
	}
	if r.Notifications == nil {
		r.Notifications = make(map[NotificationKind]int)
	}
	r.Notifications[kind] += n
}

// Summary renders the result for queue viewers.
func (r Result) Summary() string {
	var parts []string
	if r.ExecutionCount == 0 {
		parts = append(parts, "not executed")
	} else {
		parts = append(parts, fmt.Sprintf("executed %dx", r.ExecutionCount))
	}
	parts = append(parts, fmt.Sprintf("%d retries left", r.RetriesLeft))
	switch {
	case r.HasHardError:
		parts = append(parts, "hard error")
	case r.HasSoftError:
		parts = append(parts, "soft error")
	}
	if r.DownloadedCount > 0 || r.NewCount > 0 {
		parts = append(parts, fmt.Sprintf("%d downloaded, %d new", r.DownloadedCount, r.NewCount))
	}
	out := strings.Join(parts, ", ")
	if r.Message != "" {
		out += ": " + r.Message
	}
	return out
}

package runner

import (
	"context"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/queue"
)

// Submit adds cmd to the queue set and wakes a worker. Validation
// failures return a *command.ValidationError and queue.Rejected. A failed
// save returns its error and stops Start.
func (r *Runner) Submit(ctx context.Context, cmd *command.Command) (queue.AddOutcome, error) {
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = r.now()
	}
	outcome, err := r.set.Add(cmd)
	if err != nil {
		r.logger.Warn("command rejected", "type", cmd.Type, "account", cmd.Account, "error", err)
		return outcome, err
	}

	r.logger.Debug("command submitted", "command_id", cmd.ID, "type", cmd.Type,
		"account", cmd.Account, "outcome", outcome.String())
	data := commandData(cmd)
	data.Outcome = outcome.String()
	r.publish(events.CommandQueued, data)

	if outcome == queue.Duplicate || outcome == queue.InError {
		return outcome, nil
	}
	if err := r.save(ctx); err != nil {
		return outcome, err
	}
	r.poke()
	return outcome, nil
}

// CancelAll removes every queued command matching pred. Executing
// commands finish normally.
func (r *Runner) CancelAll(ctx context.Context, pred func(*command.Command) bool) []*command.Command {
	removed := r.set.CancelAll(pred)
	for _, cmd := range removed {
		r.publish(events.CommandCanceled, commandData(cmd))
	}
	if len(removed) > 0 {
		r.logger.Info("commands canceled", "count", len(removed))
		_ = r.save(ctx)
	}
	return removed
}

// Clear empties every queue.
func (r *Runner) Clear(ctx context.Context) {
	r.set.Clear()
	r.logger.Info("queues cleared")
	_ = r.save(ctx)
}

// QueueSnapshot returns a diagnostic view of every queue.
func (r *Runner) QueueSnapshot() queue.Snapshot {
	return r.set.Snapshot()
}

// Foreground returns the current UI state used for gating.
func (r *Runner) Foreground() queue.Foreground {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fg
}

// SetForeground records whether the user is actively using the client.
// Leaving the foreground wakes the workers so skipped commands resume.
func (r *Runner) SetForeground(in bool) {
	r.mu.Lock()
	changed := r.fg.InForeground != in
	r.fg.InForeground = in
	r.mu.Unlock()

	if changed {
		r.logger.Info("foreground state changed", "in_foreground", in)
		r.RunNow()
	}
}

// SetSyncWhileUsing toggles background sync while in the foreground.
func (r *Runner) SetSyncWhileUsing(on bool) {
	r.mu.Lock()
	changed := r.fg.SyncWhileUsing != on
	r.fg.SyncWhileUsing = on
	r.mu.Unlock()

	if changed {
		r.logger.Info("sync while using changed", "sync_while_using", on)
		r.RunNow()
	}
}

// ForAccount matches commands targeting account.
func ForAccount(account string) func(*command.Command) bool {
	return func(c *command.Command) bool { return c.Account == account }
}

// Matching builds a CancelAll predicate from optional filters; empty
// filters match everything.
func Matching(account string, t command.Type) func(*command.Command) bool {
	return func(c *command.Command) bool {
		if account != "" && c.Account != account {
			return false
		}
		if t != "" && c.Type != t {
			return false
		}
		return true
	}
}

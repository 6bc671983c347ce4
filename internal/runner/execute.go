package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/execution"
	"github.com/mattjoyce/courier/internal/executor"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/notify"
	"github.com/mattjoyce/courier/internal/queue"
)

// execute runs one attempt of cmd, which must be in the executing slot.
func (r *Runner) execute(ctx context.Context, cmd *command.Command) {
	execID := uuid.NewString()
	logger := log.WithCommand(cmd.ID).With(
		"type", cmd.Type, "account", cmd.Account, "execution_id", execID)

	started := r.now()
	res := cmd.Result()
	res.PrepareForLaunch(started, execID)
	cmd.PublishResult(res)

	account, known := r.opts.Accounts[cmd.Account]
	var acct *execution.Account
	if known {
		acct = &account
	} else {
		account = execution.Account{Name: cmd.Account}
	}

	ex := r.resolver.Resolve(cmd, acct)
	logger.Info("executing command", "executor", ex.Name(), "attempt", res.ExecutionCount)
	startedData := commandData(cmd)
	startedData.Executor = ex.Name()
	r.publish(events.CommandStarted, startedData)

	// An attempt that has started runs to completion even when shutdown
	// cancels ctx; the executor's own deadline bounds it.
	bg := context.WithoutCancel(ctx)
	ec := execution.New(cmd, account, execID)
	err := runSafely(bg, ex, ec)

	res = cmd.Result()
	counters := ec.Flush(&res)
	message := counters.Message
	if err != nil {
		message = err.Error()
	}
	finished := r.now()
	effective := res.Finalize(executor.Outcome(err), message, finished)
	cmd.PublishResult(res)

	r.persistTimeline(bg, cmd, effective, counters, finished)

	if counters.HasNotifications() && r.opts.Sink != nil {
		d := notify.Data{
			Account:     cmd.Account,
			Timeline:    cmd.Timeline,
			CommandID:   cmd.ID,
			ExecutionID: execID,
			Counts:      counters.Notifications,
			At:          finished,
		}
		if err := r.opts.Sink.Notify(bg, d); err != nil {
			logger.Warn("notification sink failed", "error", err)
		}
	}

	disposition := dispositionFor(effective)
	filed := r.set.Finish(cmd, disposition)
	destination := disposition.String()
	if !filed {
		destination = "superseded"
	}

	switch effective {
	case command.Succeeded:
		logger.Info("command succeeded", "message", res.Message,
			"downloaded", res.DownloadedCount, "new", res.NewCount)
	case command.SoftFailed:
		logger.Warn("command failed, will retry", "error", res.Message, "retries_left", res.RetriesLeft)
	default:
		logger.Error("command failed", "error", res.Message, "destination", destination)
	}

	_ = r.save(bg)

	data := commandData(cmd)
	data.Outcome = effective.String()
	data.Destination = destination
	data.Executor = ex.Name()
	data.DurationMS = finished.Sub(started).Milliseconds()
	r.publish(events.CommandFinished, data)

	if r.opts.History != nil {
		entry := HistoryEntry{
			ExecutionID: execID,
			CommandID:   cmd.ID,
			Type:        cmd.Type,
			Account:     cmd.Account,
			Key:         cmd.Key().String(),
			Outcome:     effective.String(),
			Destination: destination,
			Attempt:     res.ExecutionCount,
			RetriesLeft: res.RetriesLeft,
			Message:     res.Message,
			Downloaded:  res.DownloadedCount,
			New:         res.NewCount,
			StartedAt:   started,
			CompletedAt: finished,
		}
		if err := r.opts.History.Record(bg, entry); err != nil {
			logger.Warn("failed to record command log", "error", err)
		}
	}
}

// runSafely turns an executor panic into a hard error.
func runSafely(ctx context.Context, ex executor.Executor, ec *execution.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = executor.Hard(fmt.Errorf("executor panic: %v", p))
		}
	}()
	return ex.Execute(ctx, ec)
}

func dispositionFor(o command.Outcome) queue.Disposition {
	switch o {
	case command.Succeeded:
		return queue.Discard
	case command.SoftFailed:
		return queue.ToRetry
	default:
		return queue.ToError
	}
}

// persistTimeline stores connector state updates and, for recurring
// syncs, the success marker the periodic trigger reads.
func (r *Runner) persistTimeline(ctx context.Context, cmd *command.Command, outcome command.Outcome, c execution.Counters, at time.Time) {
	if r.opts.State == nil || cmd.Type.Category() != command.CategoryTimeline {
		return
	}
	logger := r.logger.With("command_id", cmd.ID, "account", cmd.Account, "timeline", cmd.Timeline)

	if len(c.StateUpdates) > 0 {
		if err := r.opts.State.MergeTimeline(ctx, cmd.Account, cmd.Timeline, c.StateUpdates); err != nil {
			logger.Error("failed to apply state updates", "error", err)
		}
	}
	if !cmd.Recurring {
		return
	}
	var err error
	if outcome == command.Succeeded {
		err = r.opts.State.MarkSynced(ctx, cmd.Account, cmd.Timeline, at, c.New)
	} else {
		err = r.opts.State.MarkFailed(ctx, cmd.Account, cmd.Timeline, cmd.Result().Message)
	}
	if err != nil {
		logger.Error("failed to update sync marker", "error", err)
	}
}

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/execution"
	"github.com/mattjoyce/courier/internal/executor"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/notify"
	"github.com/mattjoyce/courier/internal/queue"
)

// DefaultTickInterval is how often idle workers re-check the queues.
const DefaultTickInterval = 30 * time.Second

// Resolver picks the executor for a command.
type Resolver interface {
	Resolve(cmd *command.Command, account *execution.Account) executor.Executor
}

// TimelineState persists per-timeline sync state after each run.
type TimelineState interface {
	MergeTimeline(ctx context.Context, account string, timeline command.TimelineType, updates map[string]any) error
	MarkSynced(ctx context.Context, account string, timeline command.TimelineType, t time.Time, newCount int) error
	MarkFailed(ctx context.Context, account string, timeline command.TimelineType, msg string) error
}

// Options configures a Runner. Only Set and Resolver are required.
type Options struct {
	Workers        int
	TickInterval   time.Duration
	SyncWhileUsing bool
	Accounts       map[string]execution.Account

	Hub     *events.Hub
	Sink    notify.Sink
	State   TimelineState
	History *History
	// Retention bounds command_log; zero keeps everything.
	Retention time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Runner executes queued commands.
type Runner struct {
	set      *queue.Set
	resolver Resolver
	opts     Options
	logger   *slog.Logger
	workers  int

	wake chan struct{}

	mu      sync.Mutex
	fg      queue.Foreground
	saveErr error

	// failed is signalled when queue storage fails; Start stops the workers.
	failed chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a Runner over set.
func New(set *queue.Set, resolver Resolver, opts Options) *Runner {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("runner")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if n := len(opts.Accounts); n > 0 && workers > n {
		workers = n
	}

	return &Runner{
		set:      set,
		resolver: resolver,
		opts:     opts,
		logger:   logger,
		workers:  workers,
		wake:     make(chan struct{}, workers),
		fg:       queue.Foreground{SyncWhileUsing: opts.SyncWhileUsing},
		stop:     make(chan struct{}),
		failed:   make(chan struct{}, 1),
	}
}

func (r *Runner) now() time.Time { return r.opts.Now().UTC() }

// Workers is the number of worker goroutines Start launches.
func (r *Runner) Workers() int { return r.workers }

// Start runs the workers until ctx is cancelled or Stop is called. It
// blocks until every in-flight execution has finished and the queues
// have been saved. A failed queue save stops the workers and is returned.
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-r.failed:
			r.logger.Error("queue storage failed, stopping workers")
			cancel()
		case <-ctx.Done():
		}
	}()

	r.logger.Info("runner started", "workers", r.workers, "tick", r.opts.TickInterval)
	r.publish(events.ServiceStarted, map[string]any{"workers": r.workers})

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.work(ctx, id)
		}(i)
	}
	if r.opts.History != nil && r.opts.Retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.pruneLoop(ctx)
		}()
	}
	wg.Wait()

	if err := r.storageErr(); err != nil {
		r.publish(events.ServiceStopped, nil)
		return fmt.Errorf("queue storage failed: %w", err)
	}
	if err := r.set.Save(context.WithoutCancel(ctx)); err != nil {
		r.logger.Error("failed to save queues on shutdown", "error", err)
		r.publish(events.ServiceStopped, nil)
		return err
	}
	r.publish(events.ServiceStopped, nil)
	r.logger.Info("runner stopped")
	return nil
}

// Stop asks Start to return once running executions finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Runner) work(ctx context.Context, id int) {
	logger := r.logger.With("worker", id)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	for {
		for ctx.Err() == nil && r.step(ctx) {
		}

		timer := time.NewTimer(r.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// nextWait is the idle time until the next tick or retry deadline.
func (r *Runner) nextWait() time.Duration {
	wait := r.opts.TickInterval
	if next := r.set.NextReadyAt(); !next.IsZero() {
		if d := next.Sub(r.now()); d < wait {
			wait = max(d, 10*time.Millisecond)
		}
	}
	return wait
}

// poke wakes one idle worker.
func (r *Runner) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// RunNow wakes every worker for an immediate pass over the queues.
func (r *Runner) RunNow() {
	for i := 0; i < r.workers; i++ {
		r.poke()
	}
}

// step takes and executes at most one command. It reports whether a
// command ran.
func (r *Runner) step(ctx context.Context) bool {
	cmd, skipped := r.set.Take(r.now(), r.Foreground().Gate())
	for _, s := range skipped {
		r.logger.Debug("command skipped while in foreground", "command_id", s.ID, "type", s.Type, "account", s.Account)
		r.publish(events.CommandSkipped, commandData(s))
	}
	if cmd == nil {
		if len(skipped) > 0 {
			_ = r.save(ctx)
		}
		return false
	}
	// Another account may have work; let an idle worker look.
	r.poke()
	r.execute(ctx, cmd)
	return true
}

func (r *Runner) pruneLoop(ctx context.Context) {
	prune := func() {
		n, err := r.opts.History.Prune(ctx, r.now().Add(-r.opts.Retention))
		if err != nil {
			r.logger.Warn("failed to prune command log", "error", err)
			return
		}
		if n > 0 {
			r.logger.Info("pruned command log", "rows", n)
		}
	}
	prune()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// save persists the queue set. A failure is also reported to Start, which
// shuts the workers down rather than run on without durable queues.
func (r *Runner) save(ctx context.Context) error {
	if err := r.set.Save(context.WithoutCancel(ctx)); err != nil {
		r.logger.Error("failed to save queues", "error", err)
		r.mu.Lock()
		if r.saveErr == nil {
			r.saveErr = err
		}
		r.mu.Unlock()
		select {
		case r.failed <- struct{}{}:
		default:
		}
		return err
	}
	r.publish(events.QueueSaved, map[string]int{"commands": r.set.Len()})
	return nil
}

func (r *Runner) storageErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveErr
}

func (r *Runner) publish(eventType string, data any) {
	if r.opts.Hub != nil {
		r.opts.Hub.Publish(eventType, data)
	}
}

func commandData(cmd *command.Command) events.CommandData {
	res := cmd.Result()
	return events.CommandData{
		ID:          cmd.ID,
		Type:        string(cmd.Type),
		Account:     cmd.Account,
		Key:         cmd.Key().String(),
		ExecutionID: res.ExecutionID,
		Attempt:     res.ExecutionCount,
		RetriesLeft: res.RetriesLeft,
		Message:     res.Message,
	}
}

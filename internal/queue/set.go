package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/log"
)

// DefaultMaxSize caps CURRENT; overflow from PRE is parked in ERROR.
const DefaultMaxSize = 200

// Options configures a Set.
type Options struct {
	RetryBudget int
	MaxSize     int
	Backoff     Backoff
	Store       Store
	Now         func() time.Time
	Logger      *slog.Logger
}

// Set owns the five command queues plus the executing slot. Every
// mutation is serialised by one lock so a command identity lives in at
// most one queue at a time.
type Set struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	queues    [numQueues]*orderedQueue
	executing map[command.Key]*command.Command
	busy      map[string]int
	nextID    int64

	saveMu sync.Mutex
}

// NewSet creates an empty queue set.
func NewSet(opts Options) *Set {
	if opts.RetryBudget == 0 {
		opts.RetryBudget = command.DefaultRetryBudget
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("queue")
	}

	s := &Set{
		opts:      opts,
		logger:    logger,
		executing: make(map[command.Key]*command.Command),
		busy:      make(map[string]int),
		nextID:    1,
	}
	for _, t := range Types() {
		s.queues[t] = newOrderedQueue(t)
	}
	return s
}

// RetryBudget is the number of retries new commands start with.
func (s *Set) RetryBudget() int { return s.opts.RetryBudget }

func (s *Set) now() time.Time { return s.opts.Now().UTC() }

// locateLocked finds which queue holds key.
func (s *Set) locateLocked(key command.Key) (Type, *item, bool) {
	for _, t := range Types() {
		if it, ok := s.queues[t].get(key); ok {
			return t, it, true
		}
	}
	return 0, nil, false
}

// Add submits a command. Malformed commands are rejected with a
// *command.ValidationError and never enqueued. A command parked in ERROR
// stays there until it is launched manually or removed; other submissions
// of the same identity report InError and carry the parked command's id.
func (s *Set) Add(cmd *command.Command) (AddOutcome, error) {
	if err := cmd.Validate(); err != nil {
		return Rejected, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := cmd.Key()
	qt, existing, found := s.locateLocked(key)
	_, running := s.executing[key]
	if found && qt == Error && !cmd.ManuallyLaunched {
		cmd.ID = existing.cmd.ID
		cmd.CreatedAt = existing.cmd.CreatedAt
		return InError, nil
	}

	if cmd.ID == 0 {
		cmd.ID = s.nextID
		s.nextID++
	} else if cmd.ID >= s.nextID {
		s.nextID = cmd.ID + 1
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = s.now()
	}

	if cmd.ManuallyLaunched {
		cmd.ResetResult(s.opts.RetryBudget)
		outcome := Added
		if found {
			s.queues[qt].remove(key)
			outcome = Superseded
		} else if running {
			outcome = Superseded
		}
		s.queues[Current].push(cmd, time.Time{})
		return outcome, nil
	}

	if found {
		old := existing.cmd
		cmd.ID = old.ID
		cmd.CreatedAt = old.CreatedAt
		cmd.ManuallyLaunched = cmd.ManuallyLaunched || old.ManuallyLaunched
		cmd.InForeground = cmd.InForeground || old.InForeground
		if old.HasResult() {
			cmd.PublishResult(old.Result())
		} else {
			cmd.ResetResult(s.opts.RetryBudget)
		}
		s.queues[qt].replace(key, cmd)
		return Replaced, nil
	}

	if running {
		return Duplicate, nil
	}

	if !cmd.HasResult() {
		cmd.ResetResult(s.opts.RetryBudget)
	}
	s.queues[Pre].push(cmd, time.Time{})
	return Added, nil
}

// Remove drops the command with cmd's identity from whichever queue holds it.
func (s *Set) Remove(cmd *command.Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	qt, _, found := s.locateLocked(cmd.Key())
	if !found {
		return false
	}
	_, ok := s.queues[qt].remove(cmd.Key())
	return ok
}

// Poll removes and returns the head of queue t, or nil if it is empty.
func (s *Set) Poll(t Type) *command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.queues[t].pop()
	if !ok {
		return nil
	}
	return cmd
}

// InWhichQueue reports the queue holding cmd's identity.
func (s *Set) InWhichQueue(cmd *command.Command) (Type, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qt, _, found := s.locateLocked(cmd.Key())
	return qt, found
}

// IsExecuting reports whether a command with cmd's identity is running.
func (s *Set) IsExecuting(cmd *command.Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.executing[cmd.Key()]
	return ok
}

// Size returns the number of commands in queue t.
func (s *Set) Size(t Type) int {
	return s.queues[t].len()
}

// Len is the number of queued commands across all queues.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range Types() {
		n += s.queues[t].len()
	}
	return n
}

// promoteLocked moves PRE into CURRENT (respecting the size cap), due
// RETRY entries into CURRENT and SKIPPED entries the gate now admits.
func (s *Set) promoteLocked(now time.Time, gate Gate) {
	for {
		cmd, ok := s.queues[Pre].pop()
		if !ok {
			break
		}
		if s.queues[Current].len() >= s.opts.MaxSize {
			r := cmd.Result()
			r.Finalize(command.HardFailed, fmt.Sprintf("queue is full (%d commands)", s.opts.MaxSize), now)
			cmd.PublishResult(r)
			s.queues[Error].push(cmd, time.Time{})
			s.logger.Warn("queue full, command parked in error queue", "command_id", cmd.ID, "type", cmd.Type, "account", cmd.Account)
			continue
		}
		s.queues[Current].push(cmd, time.Time{})
	}

	for _, it := range s.queues[Retry].items() {
		if it.readyAt.After(now) {
			continue
		}
		s.queues[Retry].remove(it.cmd.Key())
		s.queues[Current].push(it.cmd, time.Time{})
	}

	if gate == nil {
		return
	}
	for _, it := range s.queues[Skipped].items() {
		if gate(it.cmd) == Skip {
			continue
		}
		s.queues[Skipped].remove(it.cmd.Key())
		s.queues[Current].push(it.cmd, time.Time{})
	}
}

// Take runs a promotion pass and hands out the first CURRENT command whose
// account is idle and which the gate admits. Commands the gate skips move
// to SKIPPED and are returned in skipped. The taken command occupies the
// executing slot until Finish.
func (s *Set) Take(now time.Time, gate Gate) (taken *command.Command, skipped []*command.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.promoteLocked(now, gate)

	for _, it := range s.queues[Current].items() {
		cmd := it.cmd
		if s.busy[cmd.Account] > 0 {
			continue
		}
		verdict := Admit
		if gate != nil {
			verdict = gate(cmd)
		}
		switch verdict {
		case Skip:
			s.queues[Current].remove(cmd.Key())
			s.queues[Skipped].push(cmd, time.Time{})
			skipped = append(skipped, cmd)
		case Wait:
		default:
			s.queues[Current].remove(cmd.Key())
			s.executing[cmd.Key()] = cmd
			s.busy[cmd.Account]++
			return cmd, skipped
		}
	}
	return nil, skipped
}

// PeekEligible returns, without removing it, the command Take would hand
// out next under foreground state fg.
func (s *Set) PeekEligible(now time.Time, fg Foreground) *command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *command.Command
	consider := func(cmd *command.Command) {
		if s.busy[cmd.Account] > 0 || !fg.Admits(cmd) {
			return
		}
		if best == nil || cmd.Before(best) {
			best = cmd
		}
	}
	for _, t := range []Type{Pre, Current, Skipped} {
		for _, it := range s.queues[t].items() {
			consider(it.cmd)
		}
	}
	for _, it := range s.queues[Retry].items() {
		if !it.readyAt.After(now) {
			consider(it.cmd)
		}
	}
	return best
}

// NextReadyAt returns the earliest RETRY deadline, or zero if RETRY is empty.
func (s *Set) NextReadyAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next time.Time
	for _, it := range s.queues[Retry].items() {
		if next.IsZero() || it.readyAt.Before(next) {
			next = it.readyAt
		}
	}
	return next
}

// Finish releases cmd from the executing slot and files it according to
// d. If a newer instance with the same identity was queued while cmd ran,
// the newer one wins and cmd is discarded; filed is false in that case.
func (s *Set) Finish(cmd *command.Command, d Disposition) (filed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cmd.Key()
	if running, ok := s.executing[key]; ok && running == cmd {
		delete(s.executing, key)
		if s.busy[cmd.Account]--; s.busy[cmd.Account] <= 0 {
			delete(s.busy, cmd.Account)
		}
	}

	if _, _, found := s.locateLocked(key); found {
		return false
	}

	switch d {
	case ToRetry:
		s.queues[Retry].push(cmd, s.opts.Backoff.ReadyAt(cmd.Result()))
	case ToError:
		s.queues[Error].push(cmd, time.Time{})
	}
	return true
}

// CancelAll removes every queued command matching pred and returns them.
// Executing commands are not touched; they run to completion.
func (s *Set) CancelAll(pred func(*command.Command) bool) []*command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*command.Command
	for _, t := range Types() {
		for _, it := range s.queues[t].items() {
			if pred(it.cmd) {
				s.queues[t].remove(it.cmd.Key())
				removed = append(removed, it.cmd)
			}
		}
	}
	return removed
}

// Clear empties every queue. The executing slot is left alone.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range Types() {
		s.queues[t].clear()
	}
}

// Executing returns the commands currently in the executing slot.
func (s *Set) Executing() []*command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executingLocked()
}

func (s *Set) executingLocked() []*command.Command {
	out := make([]*command.Command, 0, len(s.executing))
	for _, cmd := range s.executing {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns a read-only view of every queue and the executing slot.
func (s *Set) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TakenAt: s.now(),
		Queues:  make(map[Type][]Entry, numQueues),
	}
	for _, t := range Types() {
		items := s.queues[t].items()
		entries := make([]Entry, 0, len(items))
		for _, it := range items {
			entries = append(entries, newEntry(it.cmd, it.readyAt))
		}
		snap.Queues[t] = entries
	}
	for _, cmd := range s.executingLocked() {
		snap.Executing = append(snap.Executing, newEntry(cmd, time.Time{}))
	}
	return snap
}

// records flattens the set for persistence. Executing commands are stored
// in CURRENT so a crash re-runs them from the start.
func (s *Set) records() ([]Record, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, t := range Types() {
		items := s.queues[t].items()
		if t == Current {
			for _, cmd := range s.executing {
				items = append(items, item{cmd: cmd})
			}
			sort.Slice(items, func(i, j int) bool { return items[i].cmd.Before(items[j].cmd) })
		}
		for _, it := range items {
			out = append(out, Record{Queue: t, Command: it.cmd})
		}
	}
	return out, s.nextID
}

// Save writes the full set to the store.
func (s *Set) Save(ctx context.Context) error {
	if s.opts.Store == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	records, nextID := s.records()
	if err := s.opts.Store.SaveQueues(ctx, records, nextID); err != nil {
		return fmt.Errorf("save queues: %w", err)
	}
	s.logger.Debug("queues saved", "commands", len(records))
	return nil
}

// Load replaces the in-memory state with the stored one.
func (s *Set) Load(ctx context.Context) error {
	if s.opts.Store == nil {
		return nil
	}
	records, nextID, err := s.opts.Store.LoadQueues(ctx)
	if err != nil {
		return fmt.Errorf("load queues: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range Types() {
		s.queues[t].clear()
	}
	s.executing = make(map[command.Key]*command.Command)
	s.busy = make(map[string]int)
	s.nextID = max(nextID, 1)

	for _, rec := range records {
		cmd := rec.Command
		if rec.Queue < 0 || rec.Queue >= numQueues {
			return fmt.Errorf("%w: command %d stored in unknown queue %d", ErrCorrupt, cmd.ID, rec.Queue)
		}
		if qt, prev, dup := s.locateLocked(cmd.Key()); dup {
			if prev.cmd.ID >= cmd.ID {
				s.logger.Warn("dropping duplicate stored command", "command_id", cmd.ID, "key", cmd.Key().String())
				continue
			}
			s.queues[qt].remove(cmd.Key())
			s.logger.Warn("dropping duplicate stored command", "command_id", prev.cmd.ID, "key", cmd.Key().String())
		}
		if !cmd.HasResult() {
			cmd.ResetResult(s.opts.RetryBudget)
		}
		var readyAt time.Time
		if rec.Queue == Retry {
			readyAt = s.opts.Backoff.ReadyAt(cmd.Result())
		}
		s.queues[rec.Queue].push(cmd, readyAt)
		if cmd.ID >= s.nextID {
			s.nextID = cmd.ID + 1
		}
	}
	s.logger.Info("queues loaded", "commands", len(records))
	return nil
}

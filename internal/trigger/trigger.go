// Package trigger produces the recurring timeline syncs of every
// configured account.
package trigger

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/queue"
)

type schedule struct {
	account   string
	timelines []command.TimelineType
	every     time.Duration
	jitter    time.Duration
}

// due remembers the jittered deadline computed for one success marker, so
// the jitter is rolled once per sync rather than once per tick.
type due struct {
	lastSynced time.Time
	nextAt     time.Time
}

// Trigger enqueues fetch-timeline commands once a timeline's last
// successful sync is older than its interval.
type Trigger struct {
	schedules []schedule
	submitter Submitter
	state     SyncState
	events    *events.Hub
	logger    *slog.Logger
	tick      time.Duration
	now       func() time.Time

	mu   sync.Mutex
	due  map[string]due
	rand *rand.Rand

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a trigger for every enabled account with a sync section.
// Accounts with an invalid interval are logged and skipped.
func New(cfg *config.Config, sub Submitter, st SyncState, hub *events.Hub, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = log.WithComponent("trigger")
	}
	t := &Trigger{
		submitter: sub,
		state:     st,
		events:    hub,
		logger:    logger,
		tick:      cfg.Service.TickInterval,
		now:       time.Now,
		due:       make(map[string]due),
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh:    make(chan struct{}),
	}
	if t.tick <= 0 {
		t.tick = config.Defaults().Service.TickInterval
	}

	names := make([]string, 0, len(cfg.Accounts))
	for name := range cfg.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		acct := cfg.Accounts[name]
		if !acct.IsEnabled() || acct.Sync == nil {
			continue
		}
		every, err := config.ParseInterval(acct.Sync.Every)
		if err != nil {
			logger.Error("invalid sync interval for account", "account", name, "every", acct.Sync.Every, "error", err)
			continue
		}
		t.schedules = append(t.schedules, schedule{
			account:   name,
			timelines: acct.Sync.TimelineTypes(),
			every:     every,
			jitter:    acct.Sync.Jitter,
		})
	}
	return t
}

// Start begins the tick loop. The first pass runs immediately.
func (t *Trigger) Start(ctx context.Context) {
	t.logger.Info("starting periodic sync trigger", "accounts", len(t.schedules), "tick", t.tick)
	t.wg.Add(1)
	go t.loop(ctx)
}

// Stop ends the tick loop and waits for it.
func (t *Trigger) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
	t.logger.Info("periodic sync trigger stopped")
}

func (t *Trigger) loop(ctx context.Context) {
	defer t.wg.Done()

	t.Tick(ctx)

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Tick(ctx)
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one scheduling pass and returns the number of commands submitted.
func (t *Trigger) Tick(ctx context.Context) int {
	now := t.now().UTC()
	submitted := 0

	for _, s := range t.schedules {
		for _, tl := range s.timelines {
			if !t.isDue(ctx, s, tl, now) {
				continue
			}
			cmd := &command.Command{
				Type:      command.FetchTimeline,
				Account:   s.account,
				Timeline:  tl,
				Recurring: true,
			}
			outcome, err := t.submitter.Submit(ctx, cmd)
			if err != nil {
				t.logger.Error("failed to submit timeline sync", "account", s.account, "timeline", tl, "error", err)
				continue
			}
			switch outcome {
			case queue.Duplicate:
				t.publish(events.TriggerSkipped, s.account, tl, "executing")
				continue
			case queue.InError:
				t.publish(events.TriggerSkipped, s.account, tl, "in error queue")
				t.logger.Debug("timeline sync parked in error queue", "account", s.account, "timeline", tl, "command_id", cmd.ID)
				continue
			}
			submitted++
			t.publish(events.TriggerScheduled, s.account, tl, outcome.String())
			t.logger.Debug("timeline sync submitted", "account", s.account, "timeline", tl, "outcome", outcome.String())
		}
	}
	return submitted
}

func (t *Trigger) isDue(ctx context.Context, s schedule, tl command.TimelineType, now time.Time) bool {
	last, ok, err := t.state.LastSynced(ctx, s.account, tl)
	if err != nil {
		t.logger.Error("failed to read sync marker", "account", s.account, "timeline", tl, "error", err)
		return false
	}
	if !ok {
		return true
	}

	key := s.account + "/" + string(tl)
	t.mu.Lock()
	d, cached := t.due[key]
	if !cached || !d.lastSynced.Equal(last) {
		d = due{lastSynced: last, nextAt: last.Add(t.jittered(s.every, s.jitter))}
		t.due[key] = d
	}
	t.mu.Unlock()

	return !now.Before(d.nextAt)
}

// jittered adds a random duration in [0, jitter) to base. Callers hold mu.
func (t *Trigger) jittered(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(t.rand.Int63n(int64(jitter)))
}

func (t *Trigger) publish(eventType, account string, tl command.TimelineType, detail string) {
	if t.events == nil {
		return
	}
	t.events.Publish(eventType, events.TriggerData{Account: account, Timeline: string(tl), Detail: detail})
}

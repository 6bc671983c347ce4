// Package execution holds the per-run scope an executor works in.
package execution

import (
	"maps"
	"sync"
	"time"

	"github.com/mattjoyce/courier/internal/command"
)

// Account describes the account a command runs against.
type Account struct {
	Name      string
	Connector string
	Origin    string
	Config    map[string]any
	// Timeout bounds a single connector call. Zero means the connector default.
	Timeout time.Duration
}

// Context is created fresh for every execution attempt. Executors add to
// its counters; the runner flushes them into the command result and the
// notification sink once the attempt ends.
type Context struct {
	Command     *command.Command
	Account     Account
	Timeline    command.TimelineType
	ExecutionID string

	mu            sync.Mutex
	downloaded    int
	newItems      int
	notifications map[command.NotificationKind]int
	message       string
	stateUpdates  map[string]any
}

// New binds a command to its account for one execution.
func New(cmd *command.Command, account Account, executionID string) *Context {
	return &Context{
		Command:     cmd,
		Account:     account,
		Timeline:    cmd.Timeline,
		ExecutionID: executionID,
	}
}

// AddDownloaded counts items fetched from the remote side.
func (c *Context) AddDownloaded(n int) {
	c.mu.Lock()
	c.downloaded += n
	c.mu.Unlock()
}

// AddNew counts items that were not stored before.
func (c *Context) AddNew(n int) {
	c.mu.Lock()
	c.newItems += n
	c.mu.Unlock()
}

// Notify records n notification events of the given kind.
func (c *Context) Notify(kind command.NotificationKind, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	if c.notifications == nil {
		c.notifications = make(map[command.NotificationKind]int)
	}
	c.notifications[kind] += n
	c.mu.Unlock()
}

// SetMessage sets the human-readable message carried into the result.
func (c *Context) SetMessage(msg string) {
	c.mu.Lock()
	c.message = msg
	c.mu.Unlock()
}

// MergeState queues timeline state updates to be persisted after the run.
func (c *Context) MergeState(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	c.mu.Lock()
	if c.stateUpdates == nil {
		c.stateUpdates = make(map[string]any, len(updates))
	}
	maps.Copy(c.stateUpdates, updates)
	c.mu.Unlock()
}

// Counters is a snapshot of everything accumulated during the run.
type Counters struct {
	Downloaded    int
	New           int
	Notifications map[command.NotificationKind]int
	Message       string
	StateUpdates  map[string]any
}

// HasNotifications reports whether any notification counter is non-zero.
func (c Counters) HasNotifications() bool {
	for _, n := range c.Notifications {
		if n > 0 {
			return true
		}
	}
	return false
}

// Counters returns a copy of the accumulators.
func (c *Context) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{
		Downloaded:    c.downloaded,
		New:           c.newItems,
		Notifications: maps.Clone(c.notifications),
		Message:       c.message,
		StateUpdates:  maps.Clone(c.stateUpdates),
	}
}

// Flush copies the accumulators into r and returns them.
func (c *Context) Flush(r *command.Result) Counters {
	counters := c.Counters()
	r.DownloadedCount = counters.Downloaded
	r.NewCount = counters.New
	for kind, n := range counters.Notifications {
		r.AddNotification(kind, n)
	}
	return counters
}

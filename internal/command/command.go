package command

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Key is the logical identity of a command. Two commands with equal keys
// are duplicates of each other.
type Key struct {
	Type     Type
	Account  string
	Timeline TimelineType
	EntityID string
	Query    string
}

func (k Key) String() string {
	return strings.Join([]string{
		string(k.Type), k.Account, string(k.Timeline), k.EntityID, k.Query,
	}, "|")
}

// Command is one unit of work against a remote account. Identity fields
// are fixed once the command is submitted; only the result changes, and
// it is published through an atomic pointer so readers never need a lock.
type Command struct {
	// ID is the creation id. Zero until the queue set assigns one.
	ID        int64
	Type      Type
	Account   string
	Timeline  TimelineType
	EntityID  string
	EntityIDs []string
	Query     string
	Body      string
	CreatedAt time.Time

	// ManuallyLaunched bypasses dedup suppression and foreground gating.
	ManuallyLaunched bool
	// InForeground exempts the command from background-sync suppression.
	InForeground bool
	// Recurring marks commands produced by the periodic sync trigger.
	Recurring bool

	result atomic.Pointer[Result]
}

// Key returns the de-duplication identity of c.
func (c *Command) Key() Key {
	return Key{
		Type:     c.Type,
		Account:  c.Account,
		Timeline: c.Timeline,
		EntityID: c.EntityID,
		Query:    c.Query,
	}
}

// PriorityClass orders commands inside a queue; lower runs first.
func (c *Command) PriorityClass() int {
	switch {
	case c.InForeground:
		return PriorityForeground
	case c.ManuallyLaunched:
		return PriorityManual
	default:
		return c.Type.BasePriority()
	}
}

// Before reports whether c sorts ahead of o: priority class, then creation id.
func (c *Command) Before(o *Command) bool {
	pc, po := c.PriorityClass(), o.PriorityClass()
	if pc != po {
		return pc < po
	}
	return c.ID < o.ID
}

// Validate rejects malformed commands before they reach any queue.
func (c *Command) Validate() error {
	if c == nil {
		return &ValidationError{Reason: "command is nil"}
	}
	info, ok := typeTable[c.Type]
	if !ok {
		return &ValidationError{Type: c.Type, Reason: fmt.Sprintf("unknown command type %q", c.Type)}
	}
	if strings.TrimSpace(c.Account) == "" {
		return &ValidationError{Type: c.Type, Reason: "target account is empty"}
	}
	if info.needsEntity && strings.TrimSpace(c.EntityID) == "" {
		return &ValidationError{Type: c.Type, Reason: "target entity id is empty"}
	}
	if info.needsQuery && strings.TrimSpace(c.Query) == "" {
		return &ValidationError{Type: c.Type, Reason: "search query is empty"}
	}

	if info.category == CategoryTimeline {
		tl, ok := timelineTable[c.Timeline]
		if !ok {
			return &ValidationError{Type: c.Type, Reason: fmt.Sprintf("invalid timeline %q", c.Timeline)}
		}
		if tl.needsEntity && strings.TrimSpace(c.EntityID) == "" {
			return &ValidationError{Type: c.Type, Reason: "actor timeline needs an actor id"}
		}
		if tl.needsQuery && strings.TrimSpace(c.Query) == "" {
			return &ValidationError{Type: c.Type, Reason: "search timeline needs a query"}
		}
	} else if c.Timeline != TimelineNone {
		if _, ok := timelineTable[c.Timeline]; !ok {
			return &ValidationError{Type: c.Type, Reason: fmt.Sprintf("invalid timeline %q", c.Timeline)}
		}
	}

	if c.Type == PostNote && strings.TrimSpace(c.Body) == "" && len(c.EntityIDs) == 0 {
		return &ValidationError{Type: c.Type, Reason: "note has neither text nor attachments"}
	}
	return nil
}

// Result returns a snapshot of the execution bookkeeping. The snapshot may
// be slightly stale while the command is running.
func (c *Command) Result() Result {
	r := c.result.Load()
	if r == nil {
		return Result{}
	}
	return r.clone()
}

// HasResult reports whether bookkeeping was ever published for c.
func (c *Command) HasResult() bool {
	return c.result.Load() != nil
}

// PublishResult replaces the bookkeeping snapshot.
func (c *Command) PublishResult(r Result) {
	cp := r.clone()
	c.result.Store(&cp)
}

// ResetResult publishes fresh bookkeeping with the given retry budget.
func (c *Command) ResetResult(retryBudget int) {
	c.PublishResult(NewResult(retryBudget))
}

func (c *Command) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s account=%s", c.ID, c.Type, c.Account)
	if c.Timeline != TimelineNone {
		fmt.Fprintf(&b, " timeline=%s", c.Timeline)
	}
	if c.EntityID != "" {
		fmt.Fprintf(&b, " entity=%s", c.EntityID)
	}
	if c.Query != "" {
		fmt.Fprintf(&b, " query=%q", c.Query)
	}
	if c.ManuallyLaunched {
		b.WriteString(" manual")
	}
	if c.InForeground {
		b.WriteString(" foreground")
	}
	return b.String()
}

// record is the durable form of a command.
type record struct {
	ID               int64        `json:"id"`
	Type             Type         `json:"type"`
	Account          string       `json:"account"`
	Timeline         TimelineType `json:"timeline,omitempty"`
	EntityID         string       `json:"entity_id,omitempty"`
	EntityIDs        []string     `json:"entity_ids,omitempty"`
	Query            string       `json:"query,omitempty"`
	Body             string       `json:"body,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	ManuallyLaunched bool         `json:"manually_launched,omitempty"`
	InForeground     bool         `json:"in_foreground,omitempty"`
	Recurring        bool         `json:"recurring,omitempty"`
	Result           *Result      `json:"result,omitempty"`
}

func (c *Command) MarshalJSON() ([]byte, error) {
	rec := record{
		ID:               c.ID,
		Type:             c.Type,
		Account:          c.Account,
		Timeline:         c.Timeline,
		EntityID:         c.EntityID,
		EntityIDs:        c.EntityIDs,
		Query:            c.Query,
		Body:             c.Body,
		CreatedAt:        c.CreatedAt,
		ManuallyLaunched: c.ManuallyLaunched,
		InForeground:     c.InForeground,
		Recurring:        c.Recurring,
	}
	if c.HasResult() {
		r := c.Result()
		rec.Result = &r
	}
	return json.Marshal(rec)
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	c.ID = rec.ID
	c.Type = rec.Type
	c.Account = rec.Account
	c.Timeline = rec.Timeline
	c.EntityID = rec.EntityID
	c.EntityIDs = rec.EntityIDs
	c.Query = rec.Query
	c.Body = rec.Body
	c.CreatedAt = rec.CreatedAt
	c.ManuallyLaunched = rec.ManuallyLaunched
	c.InForeground = rec.InForeground
	c.Recurring = rec.Recurring
	if rec.Result != nil {
		c.PublishResult(*rec.Result)
	} else {
		c.result.Store(nil)
	}
	return nil
}

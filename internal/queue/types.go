package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/courier/internal/command"
)

// Type names one of the five queues of a Set.
type Type int

const (
	Pre Type = iota
	Current
	Skipped
	Retry
	Error
	numQueues
)

var typeNames = [numQueues]string{"pre", "current", "skipped", "retry", "error"}

// Types lists every queue in processing order.
func Types() []Type {
	return []Type{Pre, Current, Skipped, Retry, Error}
}

func (t Type) String() string {
	if t < 0 || t >= numQueues {
		return fmt.Sprintf("queue(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType maps a queue name onto its Type.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown queue %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// AddOutcome reports what Add did with a submitted command.
type AddOutcome int

const (
	// Added means the command was new and is waiting in PRE (or CURRENT for manual launches).
	Added AddOutcome = iota
	// Replaced means an identical queued command took the new payload and kept its bookkeeping.
	Replaced
	// Superseded means an older instance was dropped in favour of the new one.
	Superseded
	// Duplicate means an identical command is executing; the submission was dropped.
	Duplicate
	// InError means an identical command is parked in ERROR; only a manual
	// launch or an explicit removal takes it out.
	InError
	// Rejected means the command failed validation.
	Rejected
)

func (o AddOutcome) String() string {
	switch o {
	case Added:
		return "added"
	case Replaced:
		return "replaced"
	case Superseded:
		return "superseded"
	case Duplicate:
		return "duplicate"
	case InError:
		return "in-error"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Admission is a gate's verdict on a command pulled from CURRENT.
type Admission int

const (
	Admit Admission = iota
	// Skip parks the command in SKIPPED until the gate admits it again.
	Skip
	// Wait leaves the command where it is for a later pass.
	Wait
)

// Gate decides whether a command may start now.
type Gate func(cmd *command.Command) Admission

// Foreground captures the UI state that drives background-sync gating.
type Foreground struct {
	InForeground   bool
	SyncWhileUsing bool
}

// Admits reports whether cmd may run under this foreground state.
func (f Foreground) Admits(cmd *command.Command) bool {
	if cmd.InForeground || cmd.ManuallyLaunched {
		return true
	}
	return !f.InForeground || f.SyncWhileUsing
}

// Gate adapts the foreground rules to a Gate.
func (f Foreground) Gate() Gate {
	return func(cmd *command.Command) Admission {
		if f.Admits(cmd) {
			return Admit
		}
		return Skip
	}
}

// Disposition says where a finished command goes.
type Disposition int

const (
	Discard Disposition = iota
	ToRetry
	ToError
)

func (d Disposition) String() string {
	switch d {
	case Discard:
		return "discard"
	case ToRetry:
		return Retry.String()
	case ToError:
		return Error.String()
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Record is one persisted queue entry.
type Record struct {
	Queue   Type
	Command *command.Command
}

// Store persists the full queue set. nextID is the creation id high-water
// mark; ids below it are never handed out again.
type Store interface {
	SaveQueues(ctx context.Context, records []Record, nextID int64) error
	LoadQueues(ctx context.Context) (records []Record, nextID int64, err error)
}

// ErrCorrupt marks unreadable or tampered queue storage.
var ErrCorrupt = errors.New("queue storage corrupt")

// Entry is a read-only view of a queued or executing command.
type Entry struct {
	ID               int64                `json:"id"`
	Key              string               `json:"key"`
	Type             command.Type         `json:"type"`
	Account          string               `json:"account"`
	Timeline         command.TimelineType `json:"timeline,omitempty"`
	EntityID         string               `json:"entity_id,omitempty"`
	Query            string               `json:"query,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	ManuallyLaunched bool                 `json:"manually_launched,omitempty"`
	InForeground     bool                 `json:"in_foreground,omitempty"`
	ReadyAt          *time.Time           `json:"ready_at,omitempty"`
	Result           command.Result       `json:"result"`
	Summary          string               `json:"summary"`
}

func newEntry(cmd *command.Command, readyAt time.Time) Entry {
	r := cmd.Result()
	e := Entry{
		ID:               cmd.ID,
		Key:              cmd.Key().String(),
		Type:             cmd.Type,
		Account:          cmd.Account,
		Timeline:         cmd.Timeline,
		EntityID:         cmd.EntityID,
		Query:            cmd.Query,
		CreatedAt:        cmd.CreatedAt,
		ManuallyLaunched: cmd.ManuallyLaunched,
		InForeground:     cmd.InForeground,
		Result:           r,
		Summary:          r.Summary(),
	}
	if !readyAt.IsZero() {
		t := readyAt
		e.ReadyAt = &t
	}
	return e
}

// Snapshot is a point-in-time diagnostic view of the whole set.
type Snapshot struct {
	TakenAt   time.Time        `json:"taken_at"`
	Queues    map[Type][]Entry `json:"queues"`
	Executing []Entry          `json:"executing"`
}

// Len counts queued commands across all queues.
func (s Snapshot) Len() int {
	n := 0
	for _, entries := range s.Queues {
		n += len(entries)
	}
	return n
}

// Filter returns a copy holding only the entries keep accepts.
func (s Snapshot) Filter(keep func(Entry) bool) Snapshot {
	out := Snapshot{TakenAt: s.TakenAt, Queues: make(map[Type][]Entry, len(s.Queues))}
	for qt, entries := range s.Queues {
		kept := []Entry{}
		for _, e := range entries {
			if keep(e) {
				kept = append(kept, e)
			}
		}
		out.Queues[qt] = kept
	}
	out.Executing = []Entry{}
	for _, e := range s.Executing {
		if keep(e) {
			out.Executing = append(out.Executing, e)
		}
	}
	return out
}

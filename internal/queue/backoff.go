package queue

import (
	"time"

	"github.com/mattjoyce/courier/internal/command"
)

const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = time.Hour
)

// Backoff is a capped exponential delay: Base·2^(n-1) after the n-th
// execution, never more than Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns how long to wait after executionCount attempts.
func (b Backoff) Delay(executionCount int) time.Duration {
	base, ceiling := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if ceiling <= 0 {
		ceiling = DefaultBackoffMax
	}
	if ceiling < base {
		ceiling = base
	}
	if executionCount <= 1 {
		return base
	}

	d := base
	for i := 1; i < executionCount; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	return min(d, ceiling)
}

// ReadyAt is when a command in RETRY becomes eligible again.
func (b Backoff) ReadyAt(r command.Result) time.Time {
	return r.LastExecutedAt.Add(b.Delay(r.ExecutionCount))
}

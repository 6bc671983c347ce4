package trigger

import (
	"context"
	"time"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_trigger.go -package=mocks github.com/mattjoyce/courier/internal/trigger Submitter,SyncState

// Submitter accepts commands produced by the trigger.
type Submitter interface {
	Submit(ctx context.Context, cmd *command.Command) (queue.AddOutcome, error)
}

// SyncState exposes the success marker written after each recurring sync.
type SyncState interface {
	LastSynced(ctx context.Context, account string, timeline command.TimelineType) (time.Time, bool, error)
}

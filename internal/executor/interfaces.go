package executor

import (
	"context"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/execution"
	"github.com/mattjoyce/courier/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_interfaces.go -package=mocks github.com/mattjoyce/courier/internal/executor Client,ItemStore,StateStore

// Executor runs one command attempt. The returned error is classified
// with Classify; nil means success.
type Executor interface {
	Name() string
	Execute(ctx context.Context, ec *execution.Context) error
}

// Client talks to the connector that implements an account's protocol.
type Client interface {
	Supports(connector string, t command.Type) bool
	Call(ctx context.Context, connector string, req *protocol.Request) (*protocol.Response, error)
}

// ItemStore records downloaded content and reports which items are new.
type ItemStore interface {
	SaveItems(ctx context.Context, account string, timeline command.TimelineType, items []protocol.Item) ([]protocol.Item, error)
}

// StateStore exposes the per-timeline sync state sent to connectors.
type StateStore interface {
	Timeline(ctx context.Context, account string, timeline command.TimelineType) (map[string]any, error)
}

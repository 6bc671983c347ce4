package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/connector"
	"github.com/mattjoyce/courier/internal/execution"
	"github.com/mattjoyce/courier/internal/protocol"
)

// deps are the collaborators shared by every connector-backed executor.
type deps struct {
	client Client
	items  ItemStore
	states StateStore
}

func (d deps) request(ec *execution.Context, state map[string]any) *protocol.Request {
	cmd := ec.Command
	timeout := ec.Account.Timeout
	if timeout <= 0 {
		timeout = connector.DefaultTimeout
	}
	cfg := ec.Account.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	if state == nil {
		state = map[string]any{}
	}
	return &protocol.Request{
		Protocol:    protocol.Version,
		ExecutionID: ec.ExecutionID,
		Command:     string(cmd.Type),
		Account:     ec.Account.Name,
		Origin:      ec.Account.Origin,
		Timeline:    string(ec.Timeline),
		EntityID:    cmd.EntityID,
		EntityIDs:   cmd.EntityIDs,
		Query:       cmd.Query,
		Body:        cmd.Body,
		Config:      cfg,
		State:       state,
		DeadlineAt:  time.Now().Add(timeout),
	}
}

// call sends req and turns an error response into an execution error.
func (d deps) call(ctx context.Context, ec *execution.Context, req *protocol.Request) (*protocol.Response, error) {
	resp, err := d.client.Call(ctx, ec.Account.Connector, req)
	if err != nil {
		if errors.Is(err, connector.ErrUnknownConnector) {
			return nil, Hard(fmt.Errorf("%w: %v", ErrUnsupported, err))
		}
		return nil, err
	}
	if err := ResponseError(resp); err != nil {
		return nil, err
	}
	ec.AddDownloaded(resp.Downloaded)
	return resp, nil
}

// store saves items and counts the fresh ones. Fresh items carrying a
// notification, or any fresh item when fallback is set, are reported.
func (d deps) store(ctx context.Context, ec *execution.Context, items []protocol.Item, fallback command.NotificationKind, notify bool) error {
	if len(items) == 0 {
		return nil
	}
	fresh, err := d.items.SaveItems(ctx, ec.Account.Name, ec.Timeline, items)
	if err != nil {
		return fmt.Errorf("save items: %w", err)
	}
	ec.AddNew(len(fresh))
	if !notify {
		return nil
	}
	for _, it := range fresh {
		switch {
		case it.Notification != "":
			ec.Notify(command.NotificationKind(it.Notification), 1)
		case fallback != "":
			ec.Notify(fallback, 1)
		}
	}
	return nil
}

// timelineDownloader fetches one family of timelines.
type timelineDownloader struct {
	deps
	name   string
	notify command.NotificationKind
}

func (t *timelineDownloader) Name() string { return t.name }

func (t *timelineDownloader) Execute(ctx context.Context, ec *execution.Context) error {
	state, err := t.states.Timeline(ctx, ec.Account.Name, ec.Timeline)
	if err != nil {
		return fmt.Errorf("load timeline state: %w", err)
	}
	resp, err := t.call(ctx, ec, t.request(ec, state))
	if err != nil {
		return err
	}

	// Backfilled history is never news.
	older := ec.Command.Type == command.FetchOlderTimeline
	if err := t.store(ctx, ec, resp.Items, t.notify, !older); err != nil {
		return err
	}
	if !older {
		ec.MergeState(resp.StateUpdates)
	}
	ec.SetMessage(fmt.Sprintf("%s: %d items", ec.Timeline, len(resp.Items)))
	return nil
}

// connectorExecutor covers the non-timeline families: actors, notes,
// media and maintenance. They differ only in the message they leave.
type connectorExecutor struct {
	deps
	name    string
	message func(cmd *command.Command, resp *protocol.Response) string
}

func (c *connectorExecutor) Name() string { return c.name }

func (c *connectorExecutor) Execute(ctx context.Context, ec *execution.Context) error {
	resp, err := c.call(ctx, ec, c.request(ec, nil))
	if err != nil {
		return err
	}
	if err := c.store(ctx, ec, resp.Items, "", false); err != nil {
		return err
	}
	ec.MergeState(resp.StateUpdates)
	if ec.Command.Type == command.PostNote {
		ec.Notify(command.NotifyOutbox, 1)
	}
	if c.message != nil {
		ec.SetMessage(c.message(ec.Command, resp))
	}
	return nil
}

func actorMessage(cmd *command.Command, resp *protocol.Response) string {
	switch cmd.Type {
	case command.Follow:
		return "now following " + cmd.EntityID
	case command.Unfollow:
		return "stopped following " + cmd.EntityID
	case command.SearchActors:
		return fmt.Sprintf("%d actors match %q", len(resp.Items), cmd.Query)
	default:
		return fmt.Sprintf("%d actors", len(resp.Items))
	}
}

func noteMessage(cmd *command.Command, resp *protocol.Response) string {
	switch cmd.Type {
	case command.PostNote:
		return "note sent"
	case command.DeleteNote:
		return "note deleted"
	case command.GetConversation:
		return fmt.Sprintf("%d notes in conversation", len(resp.Items))
	default:
		return string(cmd.Type) + " done"
	}
}

func mediaMessage(_ *command.Command, resp *protocol.Response) string {
	return fmt.Sprintf("%d files downloaded", resp.Downloaded)
}

func rateLimitMessage(_ *command.Command, resp *protocol.Response) string {
	if remaining, ok := resp.StateUpdates["remaining"]; ok {
		return fmt.Sprintf("%v requests remaining", remaining)
	}
	return "rate limit status refreshed"
}

func discoveryMessage(_ *command.Command, resp *protocol.Response) string {
	return fmt.Sprintf("%d instances discovered", len(resp.Items))
}

// unsupported fails every command it is handed.
type unsupported struct{ reason string }

func (u *unsupported) Name() string { return "unsupported" }

func (u *unsupported) Execute(context.Context, *execution.Context) error {
	return Hard(fmt.Errorf("%w: %s", ErrUnsupported, u.reason))
}

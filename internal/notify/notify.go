// Package notify forwards per-execution notification counts to whoever
// renders them.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/log"
)

// Data is what one execution had to report.
type Data struct {
	Account     string                           `json:"account"`
	Timeline    command.TimelineType             `json:"timeline,omitempty"`
	CommandID   int64                            `json:"command_id"`
	ExecutionID string                           `json:"execution_id"`
	Counts      map[command.NotificationKind]int `json:"counts"`
	At          time.Time                        `json:"at"`
}

func (d Data) EventAccount() string { return d.Account }

// Total sums every counter.
func (d Data) Total() int {
	n := 0
	for _, c := range d.Counts {
		n += c
	}
	return n
}

// Sink receives notification data once an execution finished.
type Sink interface {
	Notify(ctx context.Context, d Data) error
}

// HubSink publishes notifications on the event hub and logs them.
type HubSink struct {
	hub    *events.Hub
	logger *slog.Logger
}

func NewHubSink(hub *events.Hub, logger *slog.Logger) *HubSink {
	if logger == nil {
		logger = log.WithComponent("notify")
	}
	return &HubSink{hub: hub, logger: logger}
}

func (s *HubSink) Notify(_ context.Context, d Data) error {
	if d.Total() == 0 {
		return nil
	}
	if s.hub != nil {
		s.hub.Publish(events.Notification, d)
	}

	kinds := make([]string, 0, len(d.Counts))
	for k, n := range d.Counts {
		if n > 0 {
			kinds = append(kinds, string(k))
		}
	}
	sort.Strings(kinds)
	s.logger.Info("notifications", "account", d.Account, "timeline", d.Timeline, "kinds", kinds, "total", d.Total())
	return nil
}

// Multi fans out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, d Data) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

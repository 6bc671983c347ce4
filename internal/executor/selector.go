package executor

import (
	"fmt"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/execution"
)

// Selector maps commands to executors. The strategy table is built once
// and only read afterwards.
type Selector struct {
	client    Client
	timelines map[command.TimelineType]Executor
	byType    map[command.Type]Executor
}

func NewSelector(client Client, items ItemStore, states StateStore) *Selector {
	d := deps{client: client, items: items, states: states}

	own := &timelineDownloader{deps: d, name: "own-notes"}
	others := &timelineDownloader{deps: d, name: "actor-notes"}
	interactions := &timelineDownloader{deps: d, name: "interactions", notify: command.NotifyMention}
	private := &timelineDownloader{deps: d, name: "private", notify: command.NotifyPrivate}
	search := &timelineDownloader{deps: d, name: "search"}
	home := &timelineDownloader{deps: d, name: "home"}

	actors := &connectorExecutor{deps: d, name: "actor", message: actorMessage}
	notes := &connectorExecutor{deps: d, name: "note", message: noteMessage}
	media := &connectorExecutor{deps: d, name: "media", message: mediaMessage}

	s := &Selector{
		client: client,
		timelines: map[command.TimelineType]Executor{
			command.TimelineSent:          own,
			command.TimelineActor:         others,
			command.TimelineNotifications: interactions,
			command.TimelineMentions:      interactions,
			command.TimelinePrivate:       private,
			command.TimelineSearch:        search,
			command.TimelineHome:          home,
			command.TimelineFavorites:     home,
			command.TimelinePublic:        home,
			command.TimelineEverything:    home,
		},
		byType: map[command.Type]Executor{
			command.RateLimitStatus:   &connectorExecutor{deps: d, name: "rate-limit", message: rateLimitMessage},
			command.DiscoverInstances: &connectorExecutor{deps: d, name: "discover-instances", message: discoveryMessage},
		},
	}
	for _, t := range command.Types() {
		switch t.Category() {
		case command.CategoryActor:
			s.byType[t] = actors
		case command.CategoryItem:
			s.byType[t] = notes
		case command.CategoryMedia:
			s.byType[t] = media
		}
	}
	return s
}

// Resolve picks the executor for cmd running against account. A nil
// account means the command names an account that is not configured.
func (s *Selector) Resolve(cmd *command.Command, account *execution.Account) Executor {
	if account == nil {
		return &unsupported{reason: fmt.Sprintf("unknown account %q", cmd.Account)}
	}
	if !s.client.Supports(account.Connector, cmd.Type) {
		return &unsupported{reason: fmt.Sprintf("connector %q cannot run %s", account.Connector, cmd.Type)}
	}

	if cmd.Type.Category() == command.CategoryTimeline {
		if ex, ok := s.timelines[cmd.Timeline]; ok {
			return ex
		}
		return &unsupported{reason: fmt.Sprintf("no downloader for timeline %q", cmd.Timeline)}
	}
	if ex, ok := s.byType[cmd.Type]; ok {
		return ex
	}
	return &unsupported{reason: fmt.Sprintf("no executor for %s", cmd.Type)}
}

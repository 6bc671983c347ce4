package command

import "fmt"

// Type enumerates the units of work the engine knows how to run.
type Type string

const (
	FetchTimeline      Type = "fetch-timeline"
	FetchOlderTimeline Type = "fetch-older-timeline"
	GetConversation    Type = "get-conversation"
	GetNote            Type = "get-note"
	PostNote           Type = "post-note"
	DeleteNote         Type = "delete-note"
	Like               Type = "like"
	UndoLike           Type = "undo-like"
	Announce           Type = "announce"
	UndoAnnounce       Type = "undo-announce"
	Follow             Type = "follow"
	Unfollow           Type = "unfollow"
	GetActor           Type = "get-actor"
	GetFollowers       Type = "get-followers"
	GetFriends         Type = "get-friends"
	SearchActors       Type = "search-actors"
	GetAvatar          Type = "get-avatar"
	FetchAttachment    Type = "fetch-attachment"
	DiscoverInstances  Type = "discover-instances"
	RateLimitStatus    Type = "rate-limit-status"
	Unknown            Type = "unknown"
)

// Category groups command types by the executor family that runs them.
type Category int

const (
	CategoryNone Category = iota
	CategoryTimeline
	CategoryActor
	CategoryItem
	CategoryMedia
	CategoryMaintenance
)

func (c Category) String() string {
	switch c {
	case CategoryTimeline:
		return "timeline"
	case CategoryActor:
		return "actor"
	case CategoryItem:
		return "item"
	case CategoryMedia:
		return "media"
	case CategoryMaintenance:
		return "maintenance"
	default:
		return "none"
	}
}

// Priority classes. Lower values run first.
const (
	PriorityForeground = 0
	PriorityManual     = 1
)

type typeInfo struct {
	category    Category
	priority    int
	needsEntity bool
	needsQuery  bool
}

var typeTable = map[Type]typeInfo{
	PostNote:           {category: CategoryItem, priority: 2},
	DeleteNote:         {category: CategoryItem, priority: 2, needsEntity: true},
	Like:               {category: CategoryItem, priority: 2, needsEntity: true},
	UndoLike:           {category: CategoryItem, priority: 2, needsEntity: true},
	Announce:           {category: CategoryItem, priority: 2, needsEntity: true},
	UndoAnnounce:       {category: CategoryItem, priority: 2, needsEntity: true},
	Follow:             {category: CategoryActor, priority: 2, needsEntity: true},
	Unfollow:           {category: CategoryActor, priority: 2, needsEntity: true},
	GetNote:            {category: CategoryItem, priority: 3, needsEntity: true},
	GetConversation:    {category: CategoryItem, priority: 3, needsEntity: true},
	GetActor:           {category: CategoryActor, priority: 3, needsEntity: true},
	FetchTimeline:      {category: CategoryTimeline, priority: 4},
	SearchActors:       {category: CategoryActor, priority: 4, needsQuery: true},
	FetchOlderTimeline: {category: CategoryTimeline, priority: 5},
	GetFollowers:       {category: CategoryActor, priority: 5},
	GetFriends:         {category: CategoryActor, priority: 5},
	GetAvatar:          {category: CategoryMedia, priority: 6, needsEntity: true},
	FetchAttachment:    {category: CategoryMedia, priority: 6, needsEntity: true},
	DiscoverInstances:  {category: CategoryMaintenance, priority: 7},
	RateLimitStatus:    {category: CategoryMaintenance, priority: 7},
}

// Types returns every known command type except Unknown.
func Types() []Type {
	out := make([]Type, 0, len(typeTable))
	for t := range typeTable {
		out = append(out, t)
	}
	return out
}

// ParseType maps a string onto a known Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := typeTable[t]; !ok {
		return Unknown, fmt.Errorf("unknown command type %q", s)
	}
	return t, nil
}

// Known reports whether t is an enumerated command type.
func (t Type) Known() bool {
	_, ok := typeTable[t]
	return ok
}

// Category returns the executor family of t.
func (t Type) Category() Category {
	return typeTable[t].category
}

// BasePriority returns the priority class of t before foreground/manual boosts.
func (t Type) BasePriority() int {
	if info, ok := typeTable[t]; ok {
		return info.priority
	}
	return 9
}

// TimelineType names a timeline a fetch command targets.
type TimelineType string

const (
	TimelineNone          TimelineType = ""
	TimelineHome          TimelineType = "home"
	TimelineNotifications TimelineType = "notifications"
	TimelineMentions      TimelineType = "mentions"
	TimelinePrivate       TimelineType = "private"
	TimelineSent          TimelineType = "sent"
	TimelineActor         TimelineType = "actor"
	TimelineFavorites     TimelineType = "favorites"
	TimelineSearch        TimelineType = "search"
	TimelinePublic        TimelineType = "public"
	TimelineEverything    TimelineType = "everything"
)

var timelineTable = map[TimelineType]struct{ needsEntity, needsQuery bool }{
	TimelineHome:          {},
	TimelineNotifications: {},
	TimelineMentions:      {},
	TimelinePrivate:       {},
	TimelineSent:          {},
	TimelineActor:         {needsEntity: true},
	TimelineFavorites:     {},
	TimelineSearch:        {needsQuery: true},
	TimelinePublic:        {},
	TimelineEverything:    {},
}

// ParseTimeline maps a string onto a known TimelineType.
func ParseTimeline(s string) (TimelineType, error) {
	tt := TimelineType(s)
	if tt == TimelineNone {
		return TimelineNone, nil
	}
	if _, ok := timelineTable[tt]; !ok {
		return TimelineNone, fmt.Errorf("unknown timeline type %q", s)
	}
	return tt, nil
}

// NotificationKind is a class of event the notification sink reports.
type NotificationKind string

const (
	NotifyMention  NotificationKind = "mention"
	NotifyPrivate  NotificationKind = "private"
	NotifyFollow   NotificationKind = "follow"
	NotifyLike     NotificationKind = "like"
	NotifyAnnounce NotificationKind = "announce"
	NotifyOutbox   NotificationKind = "outbox"
)

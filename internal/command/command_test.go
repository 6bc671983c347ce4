package command

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIgnoresPayload(t *testing.T) {
	a := &Command{Type: PostNote, Account: "alice", Body: "first"}
	b := &Command{Type: PostNote, Account: "alice", Body: "second", ManuallyLaunched: true}
	assert.Equal(t, a.Key(), b.Key())

	c := &Command{Type: FetchTimeline, Account: "alice", Timeline: TimelineHome}
	d := &Command{Type: FetchTimeline, Account: "alice", Timeline: TimelineMentions}
	assert.NotEqual(t, c.Key(), d.Key())
	assert.Equal(t, "fetch-timeline|alice|home||", c.Key().String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     *Command
		wantErr bool
	}{
		{"timeline ok", &Command{Type: FetchTimeline, Account: "a", Timeline: TimelineHome}, false},
		{"unknown type", &Command{Type: "bogus", Account: "a"}, true},
		{"empty account", &Command{Type: FetchTimeline, Timeline: TimelineHome}, true},
		{"timeline missing", &Command{Type: FetchTimeline, Account: "a"}, true},
		{"actor timeline without actor", &Command{Type: FetchTimeline, Account: "a", Timeline: TimelineActor}, true},
		{"search timeline without query", &Command{Type: FetchTimeline, Account: "a", Timeline: TimelineSearch}, true},
		{"search timeline", &Command{Type: FetchTimeline, Account: "a", Timeline: TimelineSearch, Query: "go"}, false},
		{"delete without entity", &Command{Type: DeleteNote, Account: "a"}, true},
		{"delete", &Command{Type: DeleteNote, Account: "a", EntityID: "n1"}, false},
		{"empty note", &Command{Type: PostNote, Account: "a"}, true},
		{"note with attachment only", &Command{Type: PostNote, Account: "a", EntityIDs: []string{"/tmp/x.png"}}, false},
		{"search actors without query", &Command{Type: SearchActors, Account: "a"}, true},
		{"followers of own account", &Command{Type: GetFollowers, Account: "a"}, false},
		{"avatar", &Command{Type: GetAvatar, Account: "a", EntityID: "actor-1"}, false},
		{"bad timeline on item command", &Command{Type: GetNote, Account: "a", EntityID: "n", Timeline: "sideways"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr {
				var verr *ValidationError
				require.Error(t, err)
				assert.True(t, errors.As(err, &verr))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPriorityOrdering(t *testing.T) {
	timeline := &Command{ID: 1, Type: FetchTimeline, Account: "a", Timeline: TimelineHome}
	post := &Command{ID: 2, Type: PostNote, Account: "a", Body: "hi"}
	fg := &Command{ID: 3, Type: FetchAttachment, Account: "a", EntityID: "x", InForeground: true}
	manual := &Command{ID: 4, Type: RateLimitStatus, Account: "a", ManuallyLaunched: true}
	older := &Command{ID: 0, Type: FetchTimeline, Account: "b", Timeline: TimelineHome}

	assert.True(t, fg.Before(manual))
	assert.True(t, manual.Before(post))
	assert.True(t, post.Before(timeline))
	assert.True(t, older.Before(timeline), "same class breaks ties on creation id")
	assert.False(t, timeline.Before(timeline))
}

func TestResultSnapshotIsolation(t *testing.T) {
	c := &Command{Type: FetchTimeline, Account: "a", Timeline: TimelineHome}
	assert.False(t, c.HasResult())
	assert.Equal(t, Result{}, c.Result())

	r := NewResult(3)
	r.AddNotification(NotifyMention, 2)
	c.PublishResult(r)

	snap := c.Result()
	snap.Notifications[NotifyMention] = 99
	snap.RetriesLeft = 0

	again := c.Result()
	assert.Equal(t, 2, again.Notifications[NotifyMention])
	assert.Equal(t, 3, again.RetriesLeft)
}

func TestCommandJSONRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := &Command{
		ID:               17,
		Type:             FetchTimeline,
		Account:          "alice@example.social",
		Timeline:         TimelineSearch,
		Query:            "golang",
		CreatedAt:        created,
		ManuallyLaunched: true,
		Recurring:        true,
	}
	r := NewResult(5)
	r.PrepareForLaunch(created.Add(time.Minute), "exec-1")
	r.Finalize(SoftFailed, "timeout", created.Add(2*time.Minute))
	r.AddNotification(NotifyPrivate, 1)
	orig.PublishResult(r)

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var got Command
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, orig.Key(), got.Key())
	assert.Equal(t, orig.ID, got.ID)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.ManuallyLaunched)
	assert.True(t, got.Recurring)
	assert.Equal(t, orig.Result(), got.Result())
}

func TestCommandWithoutResultMarshalsWithoutResult(t *testing.T) {
	c := &Command{ID: 1, Type: GetActor, Account: "a", EntityID: "bob"}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"result"`)

	var got Command
	require.NoError(t, json.Unmarshal(data, &got))
	assert.False(t, got.HasResult())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("follow")
	require.NoError(t, err)
	assert.Equal(t, Follow, typ)
	assert.Equal(t, CategoryActor, typ.Category())

	_, err = ParseType("teleport")
	assert.Error(t, err)

	tl, err := ParseTimeline("")
	require.NoError(t, err)
	assert.Equal(t, TimelineNone, tl)
	_, err = ParseTimeline("upside-down")
	assert.Error(t, err)
}

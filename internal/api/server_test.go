package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/execution"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/queue"
	"github.com/mattjoyce/courier/internal/runner"
)

const (
	adminKey    = "admin-key"
	viewerToken = "viewer-token"
	eventsToken = "events-token"
	aliceToken  = "alice-token"
)

type fakeHistory struct {
	account string
	limit   int
	entries []runner.HistoryEntry
}

func (f *fakeHistory) Recent(_ context.Context, account string, limit int) ([]runner.HistoryEntry, error) {
	f.account, f.limit = account, limit
	return f.entries, nil
}

type fixture struct {
	handler http.Handler
	runner  *runner.Runner
	set     *queue.Set
	hub     *events.Hub
	history *fakeHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := events.NewHub(50)
	set := queue.NewSet(queue.Options{Logger: log.Discard()})
	r := runner.New(set, nil, runner.Options{
		Accounts: map[string]execution.Account{"alice": {Name: "alice"}},
		Hub:      hub,
		Logger:   log.Discard(),
	})
	history := &fakeHistory{entries: []runner.HistoryEntry{{ExecutionID: "e1", Account: "alice"}}}
	srv := New(Config{
		APIKey: adminKey,
		Tokens: []auth.TokenConfig{
			{Token: viewerToken, Scopes: []string{auth.ScopeQueueRead}},
			{Token: eventsToken, Scopes: []string{auth.ScopeEventsRO}},
			{Token: aliceToken, Scopes: []string{auth.ScopeQueueRW, auth.ScopeEventsRO}, Accounts: []string{"alice"}},
		},
	}, r, history, hub, log.Discard())
	return &fixture{handler: srv.Handler(), runner: r, set: set, hub: hub, history: history}
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	resp := decode[HealthzResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, resp.QueueDepth)
}

func TestAuthAndScopes(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"no token", "GET", "/queues", "", "", http.StatusUnauthorized},
		{"bad token", "GET", "/queues", "wrong", "", http.StatusUnauthorized},
		{"viewer reads queues", "GET", "/queues", viewerToken, "", http.StatusOK},
		{"viewer cannot submit", "POST", "/commands", viewerToken, `{"type":"rate-limit-status","account":"alice"}`, http.StatusForbidden},
		{"viewer cannot run", "POST", "/run", viewerToken, "", http.StatusForbidden},
		{"events token cannot read queues", "GET", "/queues", eventsToken, "", http.StatusForbidden},
		{"admin runs", "POST", "/run", adminKey, "", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSubmitCommand(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/commands", adminKey, `{"type":"fetch-timeline","account":"alice","timeline":"home"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	first := decode[CommandResponse](t, rec)
	assert.Equal(t, "added", first.Outcome)
	assert.NotZero(t, first.ID)

	rec = f.do(t, "POST", "/commands", adminKey, `{"type":"fetch-timeline","account":"alice","timeline":"home"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	second := decode[CommandResponse](t, rec)
	assert.Equal(t, "replaced", second.Outcome)
	assert.Equal(t, first.ID, second.ID)

	rec = f.do(t, "POST", "/commands", adminKey, `{"type":"get-note","account":"alice","manual":true,"entity_id":"n1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	snap := f.runner.QueueSnapshot()
	assert.Equal(t, 2, snap.Len())
	assert.Len(t, snap.Queues[queue.Current], 1, "manual launch goes straight to current")
}

func TestSubmitOverParkedCommand(t *testing.T) {
	f := newFixture(t)

	parked := &command.Command{Type: command.FetchTimeline, Account: "alice", Timeline: command.TimelineHome}
	_, err := f.set.Add(parked)
	require.NoError(t, err)
	taken, _ := f.set.Take(time.Now(), nil)
	require.Same(t, parked, taken)
	f.set.Finish(taken, queue.ToError)

	rec := f.do(t, "POST", "/commands", adminKey, `{"type":"fetch-timeline","account":"alice","timeline":"home"}`)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	resp := decode[CommandResponse](t, rec)
	assert.Equal(t, "in-error", resp.Outcome)
	assert.Equal(t, parked.ID, resp.ID)
	assert.Equal(t, 1, f.set.Size(queue.Error))

	rec = f.do(t, "POST", "/commands", adminKey, `{"type":"fetch-timeline","account":"alice","timeline":"home","manual":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "superseded", decode[CommandResponse](t, rec).Outcome)
	assert.Zero(t, f.set.Size(queue.Error))
}

func TestSubmitCommandRejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"unknown field", `{"type":"like","account":"alice","entity_id":"n","bogus":1}`},
		{"unknown type", `{"type":"teleport","account":"alice"}`},
		{"unknown timeline", `{"type":"fetch-timeline","account":"alice","timeline":"sideways"}`},
		{"missing entity", `{"type":"like","account":"alice"}`},
		{"missing account", `{"type":"rate-limit-status"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "POST", "/commands", adminKey, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, f.set.Len())
}

func TestCancelCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, c := range []*command.Command{
		{Type: command.FetchTimeline, Account: "alice", Timeline: command.TimelineHome},
		{Type: command.GetFollowers, Account: "alice"},
		{Type: command.GetFollowers, Account: "bob"},
	} {
		_, err := f.runner.Submit(ctx, c)
		require.NoError(t, err)
	}

	rec := f.do(t, "DELETE", "/commands", adminKey, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "DELETE", "/commands?type=nope", adminKey, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "DELETE", "/commands?type=get-followers", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[CancelResponse](t, rec).Canceled)

	rec = f.do(t, "DELETE", "/commands?all=true", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[CancelResponse](t, rec).Canceled)
	assert.Zero(t, f.set.Len())
}

func TestForeground(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "PUT", "/foreground", adminKey, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "PUT", "/foreground", adminKey, `{"in_foreground":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[ForegroundState](t, rec)
	require.NotNil(t, state.InForeground)
	assert.True(t, *state.InForeground)
	assert.True(t, f.runner.Foreground().InForeground)

	rec = f.do(t, "PUT", "/foreground", adminKey, `{"sync_while_using":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, queue.Foreground{InForeground: true, SyncWhileUsing: true}, f.runner.Foreground())

	rec = f.do(t, "GET", "/foreground", viewerToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/history?account=alice&limit=5", viewerToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]runner.HistoryEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", f.history.account)
	assert.Equal(t, 5, f.history.limit)

	rec = f.do(t, "GET", "/history?limit=0", viewerToken, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	f.hub.Publish(events.CommandQueued, events.CommandData{ID: 7, Account: "alice"})

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+eventsToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, strings.TrimSpace(line))
	}
	assert.Equal(t, "id: 1", lines[0])
	assert.Equal(t, "event: "+events.CommandQueued, lines[1])
	assert.Contains(t, lines[2], `"id":7`)
}

func TestEventsStreamFiltersReplay(t *testing.T) {
	f := newFixture(t)
	f.hub.Publish(events.CommandQueued, events.CommandData{ID: 1, Account: "alice"})
	f.hub.Publish(events.TriggerScheduled, events.TriggerData{Account: "bob", Timeline: "home"})
	f.hub.Publish(events.CommandFinished, events.CommandData{ID: 2, Account: "bob"})

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/events?type=command.&account=bob", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+eventsToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "id: 3", strings.TrimSpace(line))
}

func TestAccountRestrictedToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.set.Add(&command.Command{Type: command.RateLimitStatus, Account: "bob"})
	require.NoError(t, err)

	rec := f.do(t, "POST", "/commands", aliceToken, `{"type":"rate-limit-status","account":"bob"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, "POST", "/commands", aliceToken, `{"type":"rate-limit-status","account":"alice"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = f.do(t, "GET", "/queues", aliceToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[queue.Snapshot](t, rec)
	assert.Equal(t, 1, snap.Len(), "bob's command is hidden")

	rec = f.do(t, "GET", "/queues", adminKey, "")
	assert.Equal(t, 2, decode[queue.Snapshot](t, rec).Len())

	rec = f.do(t, "DELETE", "/commands?all=true", aliceToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, "DELETE", "/commands?account=alice", aliceToken, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "GET", "/history", aliceToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, "GET", "/history?account=alice", aliceToken, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "GET", "/events?account=bob", aliceToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

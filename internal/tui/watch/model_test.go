package watch

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/api"
	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/queue"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSnapshot() queue.Snapshot {
	later := t0.Add(90 * time.Second)
	return queue.Snapshot{
		TakenAt: t0,
		Executing: []queue.Entry{
			{ID: 3, Type: command.PostNote, Account: "alice", Summary: "not executed, 10 retries left"},
		},
		Queues: map[queue.Type][]queue.Entry{
			queue.Current: {
				{ID: 1, Type: command.FetchTimeline, Account: "alice", Timeline: command.TimelineHome, Summary: "not executed, 10 retries left"},
			},
			queue.Retry: {
				{ID: 2, Type: command.GetNote, Account: "bob", EntityID: "n42", ReadyAt: &later, Summary: "executed 1x, 9 retries left, soft error: timeout"},
			},
			queue.Pre: {
				{ID: 4, Type: command.SearchActors, Account: "bob", Query: "gopher", Summary: "not executed, 10 retries left"},
			},
		},
	}
}

func TestQueueRowsOrder(t *testing.T) {
	rows := queueRows(testSnapshot(), t0)
	require.Len(t, rows, 4)

	var order []string
	for _, r := range rows {
		order = append(order, r[0]+"/"+r[1])
	}
	assert.Equal(t, []string{"executing/3", "pre/4", "current/1", "retry/2"}, order)

	assert.Equal(t, "-", rows[0][5])
	assert.Equal(t, `"gopher"`, rows[1][4])
	assert.Equal(t, "home", rows[2][4])
	assert.Equal(t, "now", rows[2][5])
	assert.Equal(t, "n42", rows[3][4])
	assert.Equal(t, "in 1m 30s", rows[3][5])
	assert.Contains(t, rows[3][6], "soft error: timeout")
}

func TestReadEventStream(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: command.finished",
		`data: {"id":1,"type":"get-note","account":"bob","outcome":"succeeded","retries_left":10}`,
		"",
		"id: 8",
		"event: queue.saved",
		`data: {}`,
		"",
	}, "\n")

	ch := make(chan events.Event, 4)
	readEventStream(bufio.NewScanner(strings.NewReader(stream)), ch)
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.CommandFinished, got[0].Type)
	assert.Equal(t, "#1 get-note bob succeeded", describeEvent(got[0]))
	assert.Equal(t, events.QueueSaved, got[1].Type)
	assert.Equal(t, "{}", describeEvent(got[1]))
}

func TestFetchAgainstServer(t *testing.T) {
	snap := testSnapshot()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "missing bearer token"})
			return
		}
		switch r.URL.Path {
		case "/healthz":
			_ = json.NewEncoder(w).Encode(api.HealthzResponse{Status: "ok", UptimeSeconds: 42, QueueDepth: 3, Executing: 1})
		case "/queues":
			_ = json.NewEncoder(w).Encode(snap)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h, ok := fetchHealth(srv.URL, "k").(healthMsg)
	require.True(t, ok)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Executing)

	q, ok := fetchQueues(srv.URL, "k").(queuesMsg)
	require.True(t, ok)
	assert.Len(t, q.Queues[queue.Retry], 1)
	assert.Equal(t, "n42", q.Queues[queue.Retry][0].EntityID)

	qe, ok := fetchQueues(srv.URL, "wrong").(queuesErrMsg)
	require.True(t, ok)
	assert.Contains(t, qe.err.Error(), "missing bearer token")
}

func newTestModel() Model {
	m := New("http://127.0.0.1:0", "k")
	m.now = func() time.Time { return t0 }
	return *m
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModelUpdate(t *testing.T) {
	m := newTestModel()
	assert.Equal(t, "Connecting to courier...", m.View())

	m = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 40})
	m = update(t, m, healthMsg{Status: "ok", UptimeSeconds: 75, QueueDepth: 3, Executing: 1, InForeground: true})
	assert.True(t, m.health.Connected)
	assert.True(t, m.health.InForeground)

	m = update(t, m, queuesMsg(testSnapshot()))
	assert.Len(t, m.table.Rows(), 4)

	m = update(t, m, eventMsg{ID: 1, Type: events.CommandStarted, At: t0, Data: json.RawMessage(`{"id":3,"type":"post-note","account":"alice","retries_left":10}`)})
	require.Len(t, m.eventLog, 1)
	assert.Equal(t, t0, m.spinner.LastEvent())

	view := m.View()
	assert.Contains(t, view, "COURIER WATCH")
	assert.Contains(t, view, "foreground")
	assert.Contains(t, view, "#3 post-note alice")

	m = update(t, m, queuesErrMsg{err: errors.New("boom")})
	assert.Equal(t, "boom", m.lastError)
	m = update(t, m, sseDisconnectedMsg{})
	assert.False(t, m.health.Connected)
	assert.Contains(t, m.View(), "reconnecting")
}

func TestEventLogIsBounded(t *testing.T) {
	m := newTestModel()
	for i := range eventLogSize + 5 {
		m = update(t, m, eventMsg{ID: int64(i), Type: events.QueueSaved, Data: json.RawMessage(`{}`)})
	}
	require.Len(t, m.eventLog, eventLogSize)
	assert.Equal(t, int64(eventLogSize+4), m.eventLog[0].ID)
}

func TestSpinnerDecay(t *testing.T) {
	var s Spinner
	s.OnEvent(t0)
	s.Decay(t0.Add(3 * time.Second))
	assert.Equal(t, 4, s.dots)
	s.Decay(t0.Add(11 * time.Second))
	assert.Equal(t, 0, s.dots)
}

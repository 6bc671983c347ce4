package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/protocol"
)

const testFixture = `{
  "timelines": {"home": ["n5", "n4", "n3", "n2", "n1"]},
  "notes": {
    "n1": {"content": "one"},
    "n2": {"content": "two"},
    "n3": {"content": "three", "notification": "mention"},
    "n4": {"content": "four"},
    "n5": {"content": "five"}
  },
  "actors": {"bob": {"name": "Bob"}}
}`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.json")
	require.NoError(t, os.WriteFile(path, []byte(testFixture), 0o644))
	return path
}

func run(t *testing.T, req protocol.Request) protocol.Response {
	t.Helper()
	if req.Protocol == 0 {
		req.Protocol = protocol.Version
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return handle(strings.NewReader(string(data)))
}

func itemIDs(items []protocol.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestFetchTimelineHonoursCursor(t *testing.T) {
	fx := writeFixture(t)
	cfg := map[string]any{"fixture": fx, "page_size": 3}

	first := run(t, protocol.Request{Command: "fetch-timeline", Timeline: "home", Config: cfg})
	require.Equal(t, "ok", first.Status)
	assert.Equal(t, []string{"n5", "n4", "n3"}, itemIDs(first.Items))
	assert.Equal(t, 3, first.Downloaded)
	assert.Equal(t, "n5", first.StateUpdates["since_id"])
	assert.Equal(t, "n3", first.StateUpdates["max_id"])
	assert.Equal(t, "mention", first.Items[2].Notification)

	again := run(t, protocol.Request{
		Command: "fetch-timeline", Timeline: "home", Config: cfg,
		State: map[string]any{"since_id": "n5", "max_id": "n3"},
	})
	require.Equal(t, "ok", again.Status)
	assert.Empty(t, again.Items)
	assert.Empty(t, again.StateUpdates)
}

func TestFetchOlderPagesBackwards(t *testing.T) {
	fx := writeFixture(t)

	resp := run(t, protocol.Request{
		Command: "fetch-older-timeline", Timeline: "home",
		Config: map[string]any{"fixture": fx},
		State:  map[string]any{"max_id": "n3"},
	})
	require.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"n2", "n1"}, itemIDs(resp.Items))
	assert.Nil(t, resp.StateUpdates)
}

func TestErrorsCarryKindAndRetry(t *testing.T) {
	fx := writeFixture(t)
	cfg := map[string]any{"fixture": fx}

	tests := []struct {
		name      string
		req       protocol.Request
		wantKind  protocol.ErrorKind
		wantRetry bool
	}{
		{"missing note", protocol.Request{Command: "get-note", EntityID: "zz", Config: cfg}, protocol.KindNotFound, false},
		{"unknown timeline", protocol.Request{Command: "fetch-timeline", Timeline: "public", Config: cfg}, protocol.KindNotFound, false},
		{"unsupported", protocol.Request{Command: "follow", Config: cfg}, protocol.KindUnsupported, false},
		{"offline", protocol.Request{Command: "get-note", EntityID: "n1", Config: map[string]any{"offline": true}}, protocol.KindNetwork, true},
		{"bad protocol", protocol.Request{Protocol: 9, Command: "get-note"}, protocol.KindUnsupported, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := run(t, tt.req)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.wantKind, resp.ErrorKind)
			assert.Equal(t, tt.wantRetry, resp.ShouldRetry())
		})
	}
}

func TestPostNoteAndActions(t *testing.T) {
	fx := writeFixture(t)
	cfg := map[string]any{"fixture": fx}

	posted := run(t, protocol.Request{Command: "post-note", Account: "alice", Body: "hello", Config: cfg})
	require.Equal(t, "ok", posted.Status)
	require.Len(t, posted.Items, 1)
	assert.Equal(t, "hello", posted.Items[0].Payload["content"])
	assert.Equal(t, "alice", posted.Items[0].Payload["author"])

	empty := run(t, protocol.Request{Command: "post-note", Body: "  ", Config: cfg})
	assert.Equal(t, "error", empty.Status)
	assert.False(t, empty.ShouldRetry())

	liked := run(t, protocol.Request{Command: "like", EntityID: "n2", Config: cfg})
	assert.Equal(t, "ok", liked.Status)

	actor := run(t, protocol.Request{Command: "get-actor", EntityID: "bob", Config: cfg})
	require.Equal(t, "ok", actor.Status)
	assert.Equal(t, "actor", actor.Items[0].Kind)
}

func TestInvalidJSON(t *testing.T) {
	resp := handle(strings.NewReader("{"))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.ShouldRetry())
}

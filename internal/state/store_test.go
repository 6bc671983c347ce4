package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTimelineKey(t *testing.T) {
	if got := TimelineKey("alice", command.TimelineHome); got != "alice/home" {
		t.Fatalf("TimelineKey = %q", got)
	}
	if got := TimelineKey("alice", command.TimelineNone); got != "alice" {
		t.Fatalf("TimelineKey without timeline = %q", got)
	}
}

func TestStoreGetMissingReturnsEmptyObject(t *testing.T) {
	t.Parallel()
	s := NewStore(openTestDB(t))

	raw, err := s.Get(context.Background(), "alice/home")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(raw) != "{}" {
		t.Fatalf("expected {}, got %s", string(raw))
	}
}

func TestStoreShallowMergeReplacesTopLevelKeys(t *testing.T) {
	t.Parallel()
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	if _, err := s.ShallowMerge(ctx, "k", json.RawMessage(`{"a":1,"b":{"x":1}}`)); err != nil {
		t.Fatalf("ShallowMerge (1): %v", err)
	}
	merged, err := s.ShallowMerge(ctx, "k", json.RawMessage(`{"b":{"y":2}}`))
	if err != nil {
		t.Fatalf("ShallowMerge (2): %v", err)
	}
	// "b" is replaced, not deep-merged.
	if string(merged) != `{"a":1,"b":{"y":2}}` {
		t.Fatalf("unexpected merged state: %s", string(merged))
	}
}

func TestStoreStateSizeLimit(t *testing.T) {
	t.Parallel()
	s := NewStore(openTestDB(t))

	big := make([]byte, DefaultMaxStateBytes+100_000)
	for i := range big {
		big[i] = 'a'
	}
	update := json.RawMessage(`{"blob":"` + string(big) + `"}`)
	if _, err := s.ShallowMerge(context.Background(), "k", update); err == nil {
		t.Fatalf("expected size limit error, got nil")
	}
}

func TestStoreSuccessMarker(t *testing.T) {
	t.Parallel()
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	if _, ok, err := s.LastSynced(ctx, "alice", command.TimelineHome); err != nil || ok {
		t.Fatalf("LastSynced on empty store = ok %v, err %v", ok, err)
	}

	if err := s.MergeTimeline(ctx, "alice", command.TimelineHome, map[string]any{"since_id": "n9"}); err != nil {
		t.Fatalf("MergeTimeline: %v", err)
	}
	at := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	if err := s.MarkSynced(ctx, "alice", command.TimelineHome, at, 4); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if err := s.MarkFailed(ctx, "alice", command.TimelineHome, "HTTP 502"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, ok, err := s.LastSynced(ctx, "alice", command.TimelineHome)
	if err != nil || !ok {
		t.Fatalf("LastSynced = ok %v, err %v", ok, err)
	}
	if !got.Equal(at) {
		t.Fatalf("LastSynced = %v, want %v", got, at)
	}

	st, err := s.Timeline(ctx, "alice", command.TimelineHome)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if st["since_id"] != "n9" || st[KeyLastError] != "HTTP 502" || st[KeyLastNewCount] != float64(4) {
		t.Fatalf("unexpected timeline state: %v", st)
	}

	// Other timelines are independent.
	if _, ok, _ := s.LastSynced(ctx, "alice", command.TimelineMentions); ok {
		t.Fatalf("mentions should have no success marker")
	}
}

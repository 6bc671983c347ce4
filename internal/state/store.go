package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/mattjoyce/courier/internal/command"
)

const DefaultMaxStateBytes = 1 << 20 // 1 MiB

// Keys written by MarkSynced and MarkFailed.
const (
	KeyLastSyncedAt = "last_synced_at"
	KeyLastNewCount = "last_new_count"
	KeyLastError    = "last_error"
)

// Store keeps a JSON object of sync state per account timeline.
type Store struct {
	db            *sql.DB
	maxStateBytes int
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:            db,
		maxStateBytes: DefaultMaxStateBytes,
	}
}

// TimelineKey is the state key of an account's timeline.
func TimelineKey(account string, timeline command.TimelineType) string {
	if timeline == command.TimelineNone {
		return account
	}
	return account + "/" + string(timeline)
}

// Get returns the full state blob for key, or {} if missing.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if key == "" {
		return nil, fmt.Errorf("state key is empty")
	}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT state FROM timeline_state WHERE timeline_key = ?;", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read timeline state: %w", err)
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("stored timeline state is invalid JSON for key=%q", key)
	}
	return json.RawMessage(raw), nil
}

// ShallowMerge applies updates as a shallow merge (top-level keys replaced).
// The merged state is persisted and returned.
func (s *Store) ShallowMerge(ctx context.Context, key string, updates json.RawMessage) (json.RawMessage, error) {
	if key == "" {
		return nil, fmt.Errorf("state key is empty")
	}

	upd, err := decodeObjectOrEmpty(updates)
	if err != nil {
		return nil, fmt.Errorf("decode state updates: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curRaw string
	err = tx.QueryRowContext(ctx, "SELECT state FROM timeline_state WHERE timeline_key = ?;", key).Scan(&curRaw)
	if errors.Is(err, sql.ErrNoRows) {
		curRaw = "{}"
	} else if err != nil {
		return nil, fmt.Errorf("read timeline state: %w", err)
	}

	cur, err := decodeObjectOrEmpty(json.RawMessage(curRaw))
	if err != nil {
		return nil, fmt.Errorf("decode stored state: %w", err)
	}

	maps.Copy(cur, upd)

	merged, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("marshal merged state: %w", err)
	}
	if len(merged) > s.maxStateBytes {
		return nil, fmt.Errorf("timeline state exceeds max size (%d bytes)", s.maxStateBytes)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO timeline_state(timeline_key, state, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(timeline_key) DO UPDATE SET
  state = excluded.state,
  updated_at = excluded.updated_at;
`, key, string(merged), now)
	if err != nil {
		return nil, fmt.Errorf("upsert timeline state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return json.RawMessage(merged), nil
}

// Timeline returns the decoded state of an account's timeline.
func (s *Store) Timeline(ctx context.Context, account string, timeline command.TimelineType) (map[string]any, error) {
	raw, err := s.Get(ctx, TimelineKey(account, timeline))
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode timeline state: %w", err)
	}
	return out, nil
}

// MergeTimeline shallow-merges updates into an account's timeline state.
func (s *Store) MergeTimeline(ctx context.Context, account string, timeline command.TimelineType, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	b, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("marshal state updates: %w", err)
	}
	_, err = s.ShallowMerge(ctx, TimelineKey(account, timeline), b)
	return err
}

// MarkSynced records a successful sync of the timeline at t.
func (s *Store) MarkSynced(ctx context.Context, account string, timeline command.TimelineType, t time.Time, newCount int) error {
	return s.MergeTimeline(ctx, account, timeline, map[string]any{
		KeyLastSyncedAt: t.UTC().Format(time.RFC3339Nano),
		KeyLastNewCount: newCount,
		KeyLastError:    "",
	})
}

// MarkFailed records the last sync error without touching the success marker.
func (s *Store) MarkFailed(ctx context.Context, account string, timeline command.TimelineType, msg string) error {
	return s.MergeTimeline(ctx, account, timeline, map[string]any{KeyLastError: msg})
}

// LastSynced returns the success marker of the timeline, if any.
func (s *Store) LastSynced(ctx context.Context, account string, timeline command.TimelineType) (time.Time, bool, error) {
	st, err := s.Timeline(ctx, account, timeline)
	if err != nil {
		return time.Time{}, false, err
	}
	v, ok := st[KeyLastSyncedAt].(string)
	if !ok || v == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s: %w", KeyLastSyncedAt, err)
	}
	return t, true, nil
}

func decodeObjectOrEmpty(b json.RawMessage) (map[string]json.RawMessage, error) {
	if len(b) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("invalid JSON")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	return m, nil
}

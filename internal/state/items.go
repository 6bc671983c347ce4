package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/protocol"
)

const defaultItemKind = "note"

// ItemStore remembers which remote items an account has already seen.
type ItemStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db, now: time.Now}
}

// SaveItems stores items that were not seen before and returns them.
// Items already stored for the account are left untouched.
func (s *ItemStore) SaveItems(ctx context.Context, account string, timeline command.TimelineType, items []protocol.Item) ([]protocol.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO downloaded_item(account, kind, item_id, timeline, payload, first_seen)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(account, kind, item_id) DO NOTHING;
`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC().Format(time.RFC3339Nano)
	var fresh []protocol.Item
	for _, it := range items {
		kind := it.Kind
		if kind == "" {
			kind = defaultItemKind
		}
		var payload any
		if it.Payload != nil {
			b, err := json.Marshal(it.Payload)
			if err != nil {
				return nil, fmt.Errorf("marshal payload of %s: %w", it.ID, err)
			}
			payload = string(b)
		}

		res, err := stmt.ExecContext(ctx, account, kind, it.ID, string(timeline), payload, now)
		if err != nil {
			return nil, fmt.Errorf("insert item %s: %w", it.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			fresh = append(fresh, it)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return fresh, nil
}

// Count returns how many items are stored for account.
func (s *ItemStore) Count(ctx context.Context, account string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloaded_item WHERE account = ?;", account).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

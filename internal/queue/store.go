package queue

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/courier/internal/command"
)

// SQLiteStore persists the queue set in the command_queue table. Every row
// carries a BLAKE3 checksum of its record so corruption is detected on load
// instead of silently resurrecting a garbled command.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

const nextIDName = "next_creation_id"

// SaveQueues replaces the stored queues with records in one transaction and
// raises the stored creation id high-water mark to nextID.
func (s *SQLiteStore) SaveQueues(ctx context.Context, records []Record, nextID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM command_queue;`); err != nil {
		return fmt.Errorf("clear command_queue: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO command_queue(queue, position, creation_id, command_key, record, checksum, saved_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	savedAt := time.Now().UTC().Format(time.RFC3339Nano)
	positions := make(map[Type]int, numQueues)
	for _, rec := range records {
		data, err := json.Marshal(rec.Command)
		if err != nil {
			return fmt.Errorf("marshal command %d: %w", rec.Command.ID, err)
		}
		pos := positions[rec.Queue]
		positions[rec.Queue] = pos + 1

		if _, err := stmt.ExecContext(ctx,
			rec.Queue.String(), pos, rec.Command.ID, rec.Command.Key().String(),
			string(data), checksum(data), savedAt,
		); err != nil {
			return fmt.Errorf("insert command %d: %w", rec.Command.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO queue_meta(name, value) VALUES(?, ?)
ON CONFLICT(name) DO UPDATE SET value = max(value, excluded.value);
`, nextIDName, nextID); err != nil {
		return fmt.Errorf("store next creation id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LoadQueues reads every stored record in queue order, plus the next
// creation id. The id is never below one past the newest id recorded in
// command_log, so a lost meta row cannot resurrect ids already in history.
func (s *SQLiteStore) LoadQueues(ctx context.Context) ([]Record, int64, error) {
	var nextID int64
	if err := s.db.QueryRowContext(ctx, `
SELECT max(
  COALESCE((SELECT value FROM queue_meta WHERE name = ?), 1),
  COALESCE((SELECT max(creation_id) + 1 FROM command_log), 1)
);
`, nextIDName).Scan(&nextID); err != nil {
		return nil, 0, fmt.Errorf("query next creation id: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT queue, position, record, checksum
FROM command_queue
ORDER BY queue, position;
`)
	if err != nil {
		return nil, 0, fmt.Errorf("query command_queue: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			queueName string
			position  int
			data      string
			sum       string
		)
		if err := rows.Scan(&queueName, &position, &data, &sum); err != nil {
			return nil, 0, fmt.Errorf("scan command_queue: %w", err)
		}
		qt, err := ParseType(queueName)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s[%d]: %v", ErrCorrupt, queueName, position, err)
		}
		if checksum([]byte(data)) != sum {
			return nil, 0, fmt.Errorf("%w: %s[%d]: checksum mismatch", ErrCorrupt, queueName, position)
		}
		cmd := &command.Command{}
		if err := json.Unmarshal([]byte(data), cmd); err != nil {
			return nil, 0, fmt.Errorf("%w: %s[%d]: %v", ErrCorrupt, queueName, position, err)
		}
		out = append(out, Record{Queue: qt, Command: cmd})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate command_queue: %w", err)
	}
	return out, nextID, nil
}

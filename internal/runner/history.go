package runner

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattjoyce/courier/internal/command"
)

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// HistoryEntry is one row of command_log: a single execution attempt.
type HistoryEntry struct {
	ExecutionID string       `json:"execution_id"`
	CommandID   int64        `json:"command_id"`
	Type        command.Type `json:"type"`
	Account     string       `json:"account"`
	Key         string       `json:"key"`
	Outcome     string       `json:"outcome"`
	Destination string       `json:"destination"`
	Attempt     int          `json:"attempt"`
	RetriesLeft int          `json:"retries_left"`
	Message     string       `json:"message,omitempty"`
	Downloaded  int          `json:"downloaded"`
	New         int          `json:"new"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
}

// History appends execution attempts to command_log.
type History struct {
	db *sql.DB
}

func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

func (h *History) Record(ctx context.Context, e HistoryEntry) error {
	_, err := h.db.ExecContext(ctx, `
INSERT INTO command_log(
  execution_id, creation_id, command_type, account, command_key, outcome, destination,
  attempt, retries_left, message, downloaded, new_items, started_at, completed_at
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		e.ExecutionID, e.CommandID, string(e.Type), e.Account, e.Key, e.Outcome, e.Destination,
		e.Attempt, e.RetriesLeft, e.Message, e.Downloaded, e.New,
		e.StartedAt.UTC().Format(timeFormat), e.CompletedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert command_log: %w", err)
	}
	return nil
}

// Recent returns the newest entries first. An empty account matches all.
func (h *History) Recent(ctx context.Context, account string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx, `
SELECT execution_id, creation_id, command_type, account, command_key, outcome, destination,
       attempt, retries_left, COALESCE(message, ''), downloaded, new_items, started_at, completed_at
FROM command_log
WHERE ? = '' OR account = ?
ORDER BY completed_at DESC
LIMIT ?;
`, account, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query command_log: %w", err)
	}
	return scanEntries(rows)
}

// ForCommand returns every attempt recorded for one command, oldest first.
func (h *History) ForCommand(ctx context.Context, commandID int64) ([]HistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx, `
SELECT execution_id, creation_id, command_type, account, command_key, outcome, destination,
       attempt, retries_left, COALESCE(message, ''), downloaded, new_items, started_at, completed_at
FROM command_log
WHERE creation_id = ?
ORDER BY started_at ASC, attempt ASC;
`, commandID)
	if err != nil {
		return nil, fmt.Errorf("query command_log: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]HistoryEntry, error) {
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e                  HistoryEntry
			typ                string
			started, completed string
			err                error
		)
		if err := rows.Scan(&e.ExecutionID, &e.CommandID, &typ, &e.Account, &e.Key, &e.Outcome,
			&e.Destination, &e.Attempt, &e.RetriesLeft, &e.Message, &e.Downloaded, &e.New,
			&started, &completed); err != nil {
			return nil, fmt.Errorf("scan command_log: %w", err)
		}
		e.Type = command.Type(typ)
		if e.StartedAt, err = time.Parse(timeFormat, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if e.CompletedAt, err = time.Parse(timeFormat, completed); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command_log: %w", err)
	}
	return out, nil
}

// Prune deletes entries completed before cutoff.
func (h *History) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx,
		`DELETE FROM command_log WHERE completed_at < ?;`,
		cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("prune command_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune command_log: %w", err)
	}
	return n, nil
}

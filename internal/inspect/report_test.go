package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/runner"
	"github.com/mattjoyce/courier/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedHistory(t *testing.T) *runner.History {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "courier.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := runner.NewHistory(db)
	attempts := []runner.HistoryEntry{
		{ExecutionID: "e1", Outcome: "retry", Destination: "retry", Attempt: 1, RetriesLeft: 9, Message: "timeout"},
		{ExecutionID: "e2", Outcome: "succeeded", Destination: "discard", Attempt: 2, RetriesLeft: 9, Downloaded: 20, New: 3},
	}
	for i, e := range attempts {
		e.CommandID = 42
		e.Type = command.FetchTimeline
		e.Account = "alice"
		e.Key = "fetch-timeline:home"
		e.StartedAt = t0.Add(time.Duration(i) * 30 * time.Second)
		e.CompletedAt = e.StartedAt.Add(2 * time.Second)
		require.NoError(t, h.Record(ctx, e))
	}
	return h
}

func TestBuildReport(t *testing.T) {
	h := seedHistory(t)

	out, err := BuildReport(context.Background(), h, 42)
	require.NoError(t, err)

	assert.Contains(t, out, "Command Trace")
	assert.Contains(t, out, "Command ID  : 42")
	assert.Contains(t, out, "Outcome     : succeeded -> discard")
	assert.Contains(t, out, "Attempts    : 2 over 32s")
	assert.Contains(t, out, "[1] 2026-03-01T12:00:00Z retry -> retry")
	assert.Contains(t, out, "message    : timeout")
	assert.Contains(t, out, "items      : 20 downloaded, 3 new")
}

func TestBuildJSONReport(t *testing.T) {
	h := seedHistory(t)

	out, err := BuildJSONReport(context.Background(), h, 42)
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, int64(42), report.CommandID)
	assert.Equal(t, "fetch-timeline", report.Type)
	assert.Equal(t, 2, report.Attempts)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, "e1", report.Steps[0].ExecutionID)
	assert.Equal(t, "discard", report.Steps[1].Destination)
}

func TestBuildReportUnknownCommand(t *testing.T) {
	h := seedHistory(t)

	_, err := BuildReport(context.Background(), h, 7)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = BuildReport(context.Background(), h, 0)
	assert.Error(t, err)
}

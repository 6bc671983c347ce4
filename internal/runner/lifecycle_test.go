package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/execution"
	"github.com/mattjoyce/courier/internal/executor"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/queue"
)

func TestRunnerHardFailedSyncIsNotResubmitted(t *testing.T) {
	var calls atomic.Int32
	ex := &funcExecutor{name: "home", fn: func(context.Context, *execution.Context) error {
		calls.Add(1)
		return executor.Hard(executor.ErrAuthentication)
	}}
	f := newFixture(t, 0, ex)
	ctx := context.Background()

	for tick := 0; tick < 3; tick++ {
		cmd := fetchHome("alice")
		cmd.Recurring = true
		outcome, err := f.runner.Submit(ctx, cmd)
		require.NoError(t, err)
		if tick == 0 {
			assert.Equal(t, queue.Added, outcome)
		} else {
			assert.Equal(t, queue.InError, outcome, "tick %d", tick)
		}
		for f.runner.step(ctx) {
		}
		f.clock.Advance(5 * time.Minute)
	}

	assert.Equal(t, int32(1), calls.Load(), "hard-failed sync was executed again")
	assert.Equal(t, 1, f.set.Size(queue.Error))
	assert.Equal(t, 1, f.set.Len())

	relaunch := fetchHome("alice")
	relaunch.ManuallyLaunched = true
	outcome, err := f.runner.Submit(ctx, relaunch)
	require.NoError(t, err)
	assert.Equal(t, queue.Superseded, outcome)
	require.True(t, f.runner.step(ctx))
	assert.Equal(t, int32(2), calls.Load())
}

// brokenStore fails every save.
type brokenStore struct{ err error }

func (b brokenStore) SaveQueues(context.Context, []queue.Record, int64) error { return b.err }

func (b brokenStore) LoadQueues(context.Context) ([]queue.Record, int64, error) {
	return nil, 1, nil
}

func TestRunnerStopsWhenQueueSaveFails(t *testing.T) {
	diskFull := errors.New("disk full")
	var calls atomic.Int32
	ex := &funcExecutor{name: "home", fn: func(context.Context, *execution.Context) error {
		calls.Add(1)
		return nil
	}}
	set := queue.NewSet(queue.Options{Store: brokenStore{err: diskFull}, Logger: log.Discard()})
	r := New(set, staticResolver{ex: ex}, Options{
		TickInterval: 50 * time.Millisecond,
		Accounts:     map[string]execution.Account{"alice": {Name: "alice"}},
		Logger:       log.Discard(),
	})

	done := make(chan error, 1)
	go func() { done <- r.Start(context.Background()) }()

	_, err := r.Submit(context.Background(), fetchHome("alice"))
	require.ErrorIs(t, err, diskFull)

	select {
	case err := <-done:
		require.ErrorIs(t, err, diskFull)
	case <-time.After(5 * time.Second):
		t.Fatal("runner kept running after a failed save")
	}
}

func TestRunnerShutdownLetsInFlightAttemptFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ex := &funcExecutor{name: "slow", fn: func(ctx context.Context, _ *execution.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	}}

	hub := events.NewHub(100)
	set := queue.NewSet(queue.Options{Logger: log.Discard()})
	r := New(set, staticResolver{ex: ex}, Options{
		TickInterval: 50 * time.Millisecond,
		Accounts:     map[string]execution.Account{"alice": {Name: "alice"}},
		Hub:          hub,
		Logger:       log.Discard(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	cmd := fetchHome("alice")
	_, err := r.Submit(ctx, cmd)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("command never started")
	}
	cancel()

	select {
	case <-done:
		t.Fatal("Start returned while an attempt was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}

	res := cmd.Result()
	assert.Equal(t, 1, res.ExecutionCount)
	assert.Equal(t, command.DefaultRetryBudget, res.RetriesLeft, "shutdown charged a retry")
	assert.False(t, res.HasSoftError)
	assert.Zero(t, set.Size(queue.Retry))
	finished := eventsOfType(hub, events.CommandFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, command.Succeeded.String(), finished[0].Outcome)
}

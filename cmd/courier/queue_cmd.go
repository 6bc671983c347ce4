package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/lock"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/queue"
	"github.com/mattjoyce/courier/internal/storage"
)

// loadStoredQueues reads the persisted queue set without starting a runner.
func loadStoredQueues(ctx context.Context, cfg *config.Config) (*queue.Set, func(), error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	set := newQueueSet(cfg, db, log.Discard())
	if err := set.Load(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return set, func() { _ = db.Close() }, nil
}

func runQueueShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the snapshot as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	set, closeDB, err := loadStoredQueues(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read queues: %v\n", err)
		return 1
	}
	defer closeDB()

	snap := set.Snapshot()
	if *jsonOut {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	printSnapshot(os.Stdout, snap, time.Now())
	return 0
}

func printSnapshot(w io.Writer, snap queue.Snapshot, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tID\tTYPE\tACCOUNT\tREADY\tRESULT")
	for _, qt := range queue.Types() {
		for _, e := range snap.Queues[qt] {
			ready := "now"
			if e.ReadyAt != nil && e.ReadyAt.After(now) {
				ready = e.ReadyAt.Sub(now).Round(time.Second).String()
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", qt, e.ID, e.Type, e.Account, ready, e.Summary)
		}
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d command(s) queued\n", snap.Len())
}

func runQueueClear(args []string) int {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// A running service would overwrite the cleared table on its next save.
	pidLock, err := lock.Acquire(lock.PathFor(cfg.State.Path))
	if errors.Is(err, lock.ErrHeld) {
		fmt.Fprintf(os.Stderr, "%v; use 'courier command cancel --all' against the running service\n", err)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire state lock: %v\n", err)
		return 1
	}
	defer pidLock.Release()

	ctx := context.Background()
	set, closeDB, err := loadStoredQueues(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read queues: %v\n", err)
		return 1
	}
	defer closeDB()

	n := set.Snapshot().Len()
	set.Clear()
	if err := set.Save(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save queues: %v\n", err)
		return 1
	}
	fmt.Printf("cleared %d command(s)\n", n)
	return 0
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/inspect"
	"github.com/mattjoyce/courier/internal/runner"
	"github.com/mattjoyce/courier/internal/storage"
)

func openStateDB(configPath string) (*sql.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runCommandHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	account := fs.String("account", "", "Only show this account")
	limit := fs.Int("limit", 20, "Maximum number of attempts")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	db, err := openStateDB(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		return 1
	}
	defer db.Close()

	entries, err := runner.NewHistory(db).Recent(context.Background(), *account, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		return 1
	}

	if *jsonOut {
		if entries == nil {
			entries = []runner.HistoryEntry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode history: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	printHistory(os.Stdout, entries)
	return 0
}

func printHistory(w io.Writer, entries []runner.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no attempts recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPLETED\tID\tTYPE\tACCOUNT\tATTEMPT\tOUTCOME\tDEST\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.CompletedAt.Local().Format(time.DateTime), e.CommandID, e.Type, e.Account,
			e.Attempt, e.Outcome, e.Destination, e.Message)
	}
	_ = tw.Flush()
}

func runCommandTrace(args []string) int {
	fs := flag.NewFlagSet("trace", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: courier command trace [--config PATH] [--json] <command-id>")
		return 1
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid command id %q\n", fs.Arg(0))
		return 1
	}

	db, err := openStateDB(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		return 1
	}
	defer db.Close()

	h := runner.NewHistory(db)
	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(context.Background(), h, id)
	} else {
		out, err = inspect.BuildReport(context.Background(), h, id)
	}
	if errors.Is(err, inspect.ErrNotFound) {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build trace: %v\n", err)
		return 1
	}
	fmt.Print(out)
	if *jsonOut {
		fmt.Println()
	}
	return 0
}

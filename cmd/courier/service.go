package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/courier/internal/api"
	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/connector"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/execution"
	"github.com/mattjoyce/courier/internal/executor"
	"github.com/mattjoyce/courier/internal/lock"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/notify"
	"github.com/mattjoyce/courier/internal/push"
	"github.com/mattjoyce/courier/internal/queue"
	"github.com/mattjoyce/courier/internal/runner"
	"github.com/mattjoyce/courier/internal/state"
	"github.com/mattjoyce/courier/internal/storage"
	"github.com/mattjoyce/courier/internal/trigger"
	"github.com/mattjoyce/courier/internal/tui/watch"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("courier starting", "version", version, "config", *configPath)

	lockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire state lock", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	registry, err := connector.Discover(cfg.ConnectorsDir, log.WithComponent("connector"))
	if err != nil {
		logger.Error("connector discovery failed", "connectors_dir", cfg.ConnectorsDir, "error", err)
		return 1
	}
	logger.Info("connector discovery complete", "count", len(registry.Names()))
	if err := checkAccountConnectors(cfg, registry); err != nil {
		logger.Error("account configuration does not match connectors", "error", err)
		return 1
	}

	set := newQueueSet(cfg, db, log.WithComponent("queue"))
	if err := set.Load(ctx); err != nil {
		logger.Error("failed to load queues", "error", err)
		return 1
	}
	logger.Info("queues loaded", "queued", set.Snapshot().Len())

	hub := events.NewHub(256)
	st := state.NewStore(db)
	client := connector.NewClient(registry, log.WithComponent("connector"))
	selector := executor.NewSelector(client, state.NewItemStore(db), st)
	history := runner.NewHistory(db)

	r := runner.New(set, selector, runner.Options{
		Workers:        cfg.Queue.Workers,
		TickInterval:   cfg.Service.TickInterval,
		SyncWhileUsing: cfg.Queue.SyncWhileUsing,
		Accounts:       executionAccounts(cfg),
		Hub:            hub,
		Sink:           notify.NewHubSink(hub, log.WithComponent("notify")),
		State:          st,
		History:        history,
		Retention:      cfg.Service.CommandLogRetention,
		Logger:         log.WithComponent("runner"),
	})

	var receiver *push.Server
	if cfg.Push != nil && len(cfg.Push.Endpoints) > 0 {
		pushConfig, err := push.FromConfig(cfg.Push)
		if err != nil {
			logger.Error("failed to configure push receiver", "error", err)
			return 1
		}
		receiver = push.New(pushConfig, r, log.WithComponent("push"))
	}

	// The first component to fail cancels gctx and stops the others.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.Start(gctx); err != nil {
			return fmt.Errorf("runner: %w", err)
		}
		return nil
	})

	trig := trigger.New(cfg, r, st, hub, log.WithComponent("trigger"))
	trig.Start(gctx)
	defer trig.Stop()

	if cfg.API.Enabled {
		apiServer := api.New(apiConfig(cfg), r, history, hub, log.WithComponent("api"))
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if receiver != nil {
		g.Go(func() error {
			if err := receiver.Start(gctx); err != nil {
				return fmt.Errorf("push: %w", err)
			}
			return nil
		})
		logger.Info("push receiver enabled", "listen", cfg.Push.Listen, "endpoints", len(cfg.Push.Endpoints))
	}

	logger.Info("courier running (press Ctrl+C to stop)")

	code := 0
	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		code = 1
	} else {
		logger.Info("received shutdown signal")
	}

	logger.Info("courier stopped")
	return code
}

func newQueueSet(cfg *config.Config, db *sql.DB, logger *slog.Logger) *queue.Set {
	return queue.NewSet(queue.Options{
		RetryBudget: cfg.Queue.RetryBudget,
		MaxSize:     cfg.Queue.MaxSize,
		Backoff: queue.Backoff{
			Base: cfg.Queue.BackoffBase,
			Max:  cfg.Queue.BackoffMax,
		},
		Store:  queue.NewSQLiteStore(db),
		Logger: logger,
	})
}

// executionAccounts maps enabled accounts onto their execution scope.
func executionAccounts(cfg *config.Config) map[string]execution.Account {
	out := make(map[string]execution.Account, len(cfg.Accounts))
	for name, acct := range cfg.Accounts {
		if !acct.IsEnabled() {
			continue
		}
		out[name] = execution.Account{
			Name:      name,
			Connector: acct.Connector,
			Origin:    acct.Origin,
			Config:    acct.Config,
			Timeout:   acct.Timeout,
		}
	}
	return out
}

func checkAccountConnectors(cfg *config.Config, registry *connector.Registry) error {
	var errs []error
	for name, acct := range cfg.Accounts {
		if !acct.IsEnabled() {
			continue
		}
		if _, ok := registry.Get(acct.Connector); !ok {
			errs = append(errs, fmt.Errorf("account %q: connector %q not found", name, acct.Connector))
		}
	}
	return errors.Join(errs...)
}

func apiConfig(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:    t.Token,
			Scopes:   t.Scopes,
			Accounts: t.Accounts,
		})
	}
	return api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
		Tokens: tokens,
	}
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
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

	lockPath := lock.PathFor(cfg.State.Path)
	l, err := lock.Acquire(lockPath)
	if errors.Is(err, lock.ErrHeld) {
		if pid, ok := lock.Holder(lockPath); ok {
			fmt.Printf("running (pid %d)\n", pid)
		} else {
			fmt.Println("running")
		}
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check lock: %v\n", err)
		return 1
	}
	_ = l.Release()
	fmt.Println("stopped")
	return 3
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", defaultAPIURL, "Service API URL")
	apiKey := fs.String("api-key", os.Getenv(apiKeyEnv), "API bearer token (or "+apiKeyEnv+")")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "Error: API key required. Use --api-key or %s.\n", apiKeyEnv)
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

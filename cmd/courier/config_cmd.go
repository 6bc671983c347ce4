package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/connector"
	"github.com/mattjoyce/courier/internal/doctor"
	"github.com/mattjoyce/courier/internal/log"
)

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	written, err := config.Lock(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	for _, path := range written {
		fmt.Printf("wrote %s\n", path)
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Print the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}

	registry, err := connector.Discover(cfg.ConnectorsDir, log.Discard())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}
	result := doctor.New(cfg, registry).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode report: %v\n", err)
			return 1
		}
		fmt.Println(out)
		if !result.Valid {
			return 1
		}
		return 0
	}

	fmt.Print(doctor.FormatHuman(result))
	if !result.Valid {
		return 1
	}

	enabled := 0
	for _, acct := range cfg.Accounts {
		if acct.IsEnabled() {
			enabled++
		}
	}
	fmt.Printf("%d file(s), %d account(s) (%d enabled), %d connector(s)\n",
		len(cfg.SourceFiles), len(cfg.Accounts), enabled, len(registry.Names()))

	for _, dir := range sourceDirs(cfg.SourceFiles) {
		if _, err := config.LoadChecksums(dir); errors.Is(err, config.ErrNoChecksums) {
			fmt.Printf("warning: %s has no integrity hashes; run 'courier config lock'\n", dir)
		}
	}
	return 0
}

func sourceDirs(files []string) []string {
	var dirs []string
	for _, f := range files {
		if d := filepath.Dir(f); !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

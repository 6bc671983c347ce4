package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const (
	defaultConfigPath = "./config.yaml"
	defaultAPIURL     = "http://127.0.0.1:8480"
	apiKeyEnv         = "COURIER_API_KEY"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "queue":
		return runQueueNoun(args)
	case "command":
		return runCommandNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: courier version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("courier %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`courier - queued command engine for multi-account social clients

Usage:
  courier <noun> <action> [flags]

System Commands:
  system start      Run the service in the foreground
  system status     Show whether a service holds the state database
  system watch      Live queue and event viewer (TUI)

Config Commands:
  config lock       Record integrity hashes for the configuration files
  config check      Validate configuration, connectors and integrity hashes

Queue Commands:
  queue show        Print the persisted queues
  queue clear       Drop every queued command (service must be stopped)

Command Commands:
  command submit    Submit a command to a running service
  command cancel    Cancel queued commands on a running service
  command history   List recent execution attempts from the command log
  command trace     Show every attempt of one command

General:
  version           Show version information
  help              Show this help message

Use 'courier <noun> help' for action-specific flags.
`)
}

// splitAction separates the action verb from its flags.
func splitAction(args []string) (string, []string) {
	if len(args) == 0 {
		return "", nil
	}
	return args[0], args[1:]
}

func runSystemNoun(args []string) int {
	action, rest := splitAction(args)
	switch action {
	case "start":
		return runStart(rest)
	case "status":
		return runSystemStatus(rest)
	case "watch":
		return runWatch(rest)
	case "", "help", "--help", "-h":
		fmt.Println("Usage: courier system <start|status|watch> [flags]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	action, rest := splitAction(args)
	switch action {
	case "lock":
		return runConfigLock(rest)
	case "check":
		return runConfigCheck(rest)
	case "", "help", "--help", "-h":
		fmt.Println("Usage: courier config <lock|check> [--config PATH]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runQueueNoun(args []string) int {
	action, rest := splitAction(args)
	switch action {
	case "show":
		return runQueueShow(rest)
	case "clear":
		return runQueueClear(rest)
	case "", "help", "--help", "-h":
		fmt.Println("Usage: courier queue <show|clear> [--config PATH] [--json]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown queue action: %s\n", action)
		return 1
	}
}

func runCommandNoun(args []string) int {
	action, rest := splitAction(args)
	switch action {
	case "submit":
		return runCommandSubmit(rest)
	case "cancel":
		return runCommandCancel(rest)
	case "history":
		return runCommandHistory(rest)
	case "trace":
		return runCommandTrace(rest)
	case "", "help", "--help", "-h":
		fmt.Println("Usage: courier command <submit|cancel|history|trace> [flags]")
		fmt.Println("Run 'courier command submit -h' for the submit flags.")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command action: %s\n", action)
		return 1
	}
}

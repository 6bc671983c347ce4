package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/courier/internal/command"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, or from config.yaml
// inside a directory. Files listed under include are merged in order.
func Load(configPath string) (*Config, error) {
	cfg, err := loadUnverified(configPath)
	if err != nil {
		return nil, err
	}
	if err := verifyAllConfigHashes(cfg.SourceFiles); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadUnverified reads the root file and its includes without checking
// hashes, defaults or validity.
func loadUnverified(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}
	for path := range visited {
		cfg.SourceFiles = append(cfg.SourceFiles, path)
	}
	sort.Strings(cfg.SourceFiles)
	return cfg, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		mergeConfig(cfg, included)

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return &cfg, nil
}

// mergeConfig merges src into dst; non-zero values in src win and
// accounts are added or replaced by name.
func mergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.TickInterval != 0 {
		dst.Service.TickInterval = src.Service.TickInterval
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.CommandLogRetention != 0 {
		dst.Service.CommandLogRetention = src.Service.CommandLogRetention
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}

	if src.Queue.RetryBudget != 0 {
		dst.Queue.RetryBudget = src.Queue.RetryBudget
	}
	if src.Queue.BackoffBase != 0 {
		dst.Queue.BackoffBase = src.Queue.BackoffBase
	}
	if src.Queue.BackoffMax != 0 {
		dst.Queue.BackoffMax = src.Queue.BackoffMax
	}
	if src.Queue.MaxSize != 0 {
		dst.Queue.MaxSize = src.Queue.MaxSize
	}
	if src.Queue.Workers != 0 {
		dst.Queue.Workers = src.Queue.Workers
	}
	if src.Queue.SyncWhileUsing {
		dst.Queue.SyncWhileUsing = true
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)

	if src.Push != nil {
		dst.Push = src.Push
	}

	if src.ConnectorsDir != "" {
		dst.ConnectorsDir = src.ConnectorsDir
	}
	if len(src.Accounts) > 0 && dst.Accounts == nil {
		dst.Accounts = make(map[string]AccountConfig, len(src.Accounts))
	}
	for name, acct := range src.Accounts {
		dst.Accounts[name] = acct
	}
}

// applyConfigDefaults fills in values that were not set explicitly.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.CommandLogRetention == 0 {
		cfg.Service.CommandLogRetention = defaults.Service.CommandLogRetention
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.Queue.RetryBudget == 0 {
		cfg.Queue.RetryBudget = defaults.Queue.RetryBudget
	}
	if cfg.Queue.BackoffBase == 0 {
		cfg.Queue.BackoffBase = defaults.Queue.BackoffBase
	}
	if cfg.Queue.BackoffMax == 0 {
		cfg.Queue.BackoffMax = defaults.Queue.BackoffMax
	}
	if cfg.Queue.MaxSize == 0 {
		cfg.Queue.MaxSize = defaults.Queue.MaxSize
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = defaults.Queue.Workers
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.ConnectorsDir == "" {
		cfg.ConnectorsDir = defaults.ConnectorsDir
	}
	if cfg.Accounts == nil {
		cfg.Accounts = make(map[string]AccountConfig)
	}
	for name, acct := range cfg.Accounts {
		if acct.Timeout == 0 {
			acct.Timeout = DefaultAccountTimeout
		}
		cfg.Accounts[name] = acct
	}
	if cfg.Push != nil {
		for i := range cfg.Push.Endpoints {
			if cfg.Push.Endpoints[i].SignatureHeader == "" {
				cfg.Push.Endpoints[i].SignatureHeader = DefaultSignatureHeader
			}
		}
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.CommandLogRetention < 0 {
		return fmt.Errorf("service.command_log_retention must not be negative")
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.ConnectorsDir == "" {
		return fmt.Errorf("connectors_dir is required")
	}

	q := cfg.Queue
	if q.RetryBudget < 0 {
		return fmt.Errorf("queue.retry_budget must not be negative")
	}
	if q.BackoffBase <= 0 {
		return fmt.Errorf("queue.backoff_base must be positive")
	}
	if q.BackoffMax < q.BackoffBase {
		return fmt.Errorf("queue.backoff_max (%v) must be at least queue.backoff_base (%v)", q.BackoffMax, q.BackoffBase)
	}
	if q.MaxSize <= 0 {
		return fmt.Errorf("queue.max_size must be positive")
	}
	if q.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive")
	}

	if cfg.API.Enabled {
		if err := checkUnresolved(cfg.API.Auth.APIKey, "api.auth.api_key"); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := checkUnresolved(tok.Token, fmt.Sprintf("api.auth.tokens[%d].token", i)); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
			for _, name := range tok.Accounts {
				if _, ok := cfg.Accounts[name]; !ok {
					return fmt.Errorf("api.auth.tokens[%d]: unknown account %q", i, name)
				}
			}
		}
	}

	for name, acct := range cfg.Accounts {
		if err := validateAccount(name, acct); err != nil {
			return err
		}
	}
	if cfg.Push != nil {
		if err := validatePush(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateAccount(name string, acct AccountConfig) error {
	if name == "" {
		return fmt.Errorf("account name must not be empty")
	}
	if acct.Connector == "" {
		return fmt.Errorf("account %q: connector is required", name)
	}
	if acct.Timeout < 0 {
		return fmt.Errorf("account %q: timeout must not be negative", name)
	}
	if acct.Config != nil {
		if err := checkUnresolvedEnvVars(acct.Config, name); err != nil {
			return err
		}
	}
	if !acct.IsEnabled() || acct.Sync == nil {
		return nil
	}

	if acct.Sync.Every == "" {
		return fmt.Errorf("account %q: sync.every is required", name)
	}
	if _, err := ParseInterval(acct.Sync.Every); err != nil {
		return fmt.Errorf("account %q: %w", name, err)
	}
	if acct.Sync.Jitter < 0 {
		return fmt.Errorf("account %q: sync.jitter must not be negative", name)
	}
	if err := validateTimelines(name, acct.Sync.Timelines); err != nil {
		return fmt.Errorf("account %q: sync.timelines: %w", name, err)
	}
	return nil
}

// validateTimelines checks that each timeline can be fetched without an
// entity, which is what background refreshes submit.
func validateTimelines(account string, timelines []string) error {
	for _, tl := range timelines {
		t, err := command.ParseTimeline(tl)
		if err != nil || t == command.TimelineNone {
			return fmt.Errorf("unknown timeline %q", tl)
		}
		probe := command.Command{Type: command.FetchTimeline, Account: account, Timeline: t}
		if err := probe.Validate(); err != nil {
			return fmt.Errorf("%q cannot be synced periodically", tl)
		}
	}
	return nil
}

func validatePush(cfg *Config) error {
	p := cfg.Push
	if p.Listen == "" {
		return fmt.Errorf("push.listen is required")
	}
	seen := make(map[string]bool, len(p.Endpoints))
	for i, ep := range p.Endpoints {
		field := fmt.Sprintf("push.endpoints[%d]", i)
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("%s.path must start with /", field)
		}
		if seen[ep.Path] {
			return fmt.Errorf("%s.path %q is used twice", field, ep.Path)
		}
		seen[ep.Path] = true
		if _, ok := cfg.Accounts[ep.Account]; !ok {
			return fmt.Errorf("%s.account %q is not configured", field, ep.Account)
		}
		if ep.Secret == "" {
			return fmt.Errorf("%s.secret is required", field)
		}
		if err := checkUnresolved(ep.Secret, field+".secret"); err != nil {
			return err
		}
		if err := validateTimelines(ep.Account, ep.Timelines); err != nil {
			return fmt.Errorf("%s.timelines: %w", field, err)
		}
	}
	return nil
}

func checkUnresolved(value, field string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in account config values.
func checkUnresolvedEnvVars(data map[string]any, account string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if envVarPattern.MatchString(v) {
				matches := envVarPattern.FindStringSubmatch(v)
				return fmt.Errorf("account %q: environment variable ${%s} is not set (config.%s)", account, matches[1], key)
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, account); err != nil {
				return err
			}
		}
	}
	return nil
}

// ParseInterval converts sync interval strings to durations.
func ParseInterval(interval string) (time.Duration, error) {
	switch interval {
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid sync interval %q: %w", interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("sync interval must be positive: %q", interval)
	}
	return d, nil
}

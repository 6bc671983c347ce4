package doctor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/connector"
)

func testRegistry(t *testing.T, connectors ...*connector.Connector) *connector.Registry {
	t.Helper()
	reg := connector.NewRegistry()
	for _, c := range connectors {
		require.NoError(t, reg.Add(c))
	}
	return reg
}

func fullConnector(name string) *connector.Connector {
	return &connector.Connector{Name: name, Origin: "activitypub", Commands: connector.Capabilities{"*"}}
}

func baseConfig() *config.Config {
	cfg := config.Defaults()
	cfg.ConnectorsDir = "/opt/connectors"
	cfg.Accounts = map[string]config.AccountConfig{
		"alice": {Connector: "fedi", Origin: "https://social.example"},
	}
	return cfg
}

func hasIssue(issues []Issue, category, field string) bool {
	for _, i := range issues {
		if i.Category == category && i.Field == field {
			return true
		}
	}
	return false
}

func TestValidateCleanConfig(t *testing.T) {
	r := New(baseConfig(), testRegistry(t, fullConnector("fedi"))).Validate()

	assert.True(t, r.Valid)
	assert.Empty(t, r.Errors)
	assert.Empty(t, r.Warnings)
	assert.Equal(t, "Configuration valid.\n", FormatHuman(r))
}

func TestValidateMissingConnector(t *testing.T) {
	r := New(baseConfig(), testRegistry(t)).Validate()

	assert.False(t, r.Valid)
	assert.True(t, hasIssue(r.Errors, "accounts", "accounts.alice.connector"))
}

func TestValidateDisabledAccountSkipped(t *testing.T) {
	cfg := baseConfig()
	off := false
	cfg.Accounts["bob"] = config.AccountConfig{Connector: "gone", Enabled: &off}

	r := New(cfg, testRegistry(t, fullConnector("fedi"))).Validate()
	assert.True(t, r.Valid)
}

func TestValidateSyncNeedsFetchTimeline(t *testing.T) {
	cfg := baseConfig()
	acct := cfg.Accounts["alice"]
	acct.Sync = &config.SyncConfig{Every: "5m"}
	cfg.Accounts["alice"] = acct

	postOnly := &connector.Connector{Name: "fedi", Origin: "activitypub", Commands: connector.Capabilities{command.PostNote}}
	r := New(cfg, testRegistry(t, postOnly)).Validate()

	assert.False(t, r.Valid)
	assert.True(t, hasIssue(r.Errors, "accounts", "accounts.alice.sync"))
}

func TestValidateSyncWarnings(t *testing.T) {
	cfg := baseConfig()
	acct := cfg.Accounts["alice"]
	acct.Sync = &config.SyncConfig{Every: "10s", Jitter: time.Minute}
	cfg.Accounts["alice"] = acct

	r := New(cfg, testRegistry(t, fullConnector("fedi"))).Validate()

	assert.True(t, r.Valid)
	assert.True(t, hasIssue(r.Warnings, "sync", "accounts.alice.sync.every"))
	assert.True(t, hasIssue(r.Warnings, "sync", "accounts.alice.sync.jitter"))
}

func TestValidateAPI(t *testing.T) {
	tests := []struct {
		name      string
		api       config.APIConfig
		wantValid bool
		errField  string
		warnField string
	}{
		{
			name:      "no auth",
			api:       config.APIConfig{Enabled: true, Listen: "127.0.0.1:8480"},
			wantValid: false,
			errField:  "api.auth",
		},
		{
			name: "unknown scope",
			api: config.APIConfig{Enabled: true, Listen: "127.0.0.1:8480", Auth: config.APIAuthConfig{
				Tokens: []config.APIToken{{Token: "t", Scopes: []string{auth.ScopeQueueRead, "jobs:rw"}}},
			}},
			wantValid: false,
			errField:  "api.auth.tokens[0].scopes[1]",
		},
		{
			name: "legacy key next to tokens",
			api: config.APIConfig{Enabled: true, Listen: "127.0.0.1:8480", Auth: config.APIAuthConfig{
				APIKey: "k",
				Tokens: []config.APIToken{{Token: "t", Scopes: []string{auth.ScopeAll}}},
			}},
			wantValid: true,
			warnField: "api.auth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.API = tt.api

			r := New(cfg, testRegistry(t, fullConnector("fedi"))).Validate()
			assert.Equal(t, tt.wantValid, r.Valid)
			if tt.errField != "" {
				assert.True(t, hasIssue(r.Errors, "api", tt.errField) || hasIssue(r.Errors, "token_scopes", tt.errField),
					"errors: %+v", r.Errors)
			}
			if tt.warnField != "" {
				assert.True(t, hasIssue(r.Warnings, "deprecated", tt.warnField))
			}
		})
	}
}

func TestValidatePushEndpoints(t *testing.T) {
	cfg := baseConfig()
	off := false
	cfg.Accounts["bob"] = config.AccountConfig{Connector: "fedi", Enabled: &off}
	cfg.Push = &config.PushConfig{
		Listen: "127.0.0.1:8481",
		Endpoints: []config.PushEndpoint{
			{Path: "/push/alice", Account: "alice", Secret: "short"},
			{Path: "/push/bob", Account: "bob", Secret: "a-long-enough-secret"},
		},
	}

	r := New(cfg, testRegistry(t, fullConnector("fedi"))).Validate()

	assert.True(t, r.Valid)
	assert.True(t, hasIssue(r.Warnings, "push", "push.endpoints[0].secret"))
	assert.True(t, hasIssue(r.Warnings, "push", "push.endpoints[1].account"))
}

func TestWarnUnusedConnectors(t *testing.T) {
	r := New(baseConfig(), testRegistry(t, fullConnector("fedi"), fullConnector("birdsite"))).Validate()

	assert.True(t, r.Valid)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "unused", r.Warnings[0].Category)
	assert.Contains(t, r.Warnings[0].Message, "birdsite")
}

func TestFormatHumanInvalid(t *testing.T) {
	r := New(baseConfig(), testRegistry(t, fullConnector("birdsite"))).Validate()

	out := FormatHuman(r)
	assert.Contains(t, out, "Configuration invalid (1 error(s), 1 warning(s))")
	assert.Contains(t, out, "ERROR [accounts] accounts.alice.connector")
	assert.Contains(t, out, "WARN  [unused]")
}

func TestFormatJSON(t *testing.T) {
	r := New(baseConfig(), testRegistry(t)).Validate()

	out, err := FormatJSON(r)
	require.NoError(t, err)

	var decoded Result
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.False(t, decoded.Valid)
	require.Len(t, decoded.Errors, 1)
	assert.Equal(t, "accounts.alice.connector", decoded.Errors[0].Field)
}

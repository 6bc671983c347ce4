// Package doctor cross-checks courier configuration against the
// discovered connectors.
package doctor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/connector"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against discovered connectors.
type Doctor struct {
	cfg      *config.Config
	registry *connector.Registry
}

func New(cfg *config.Config, registry *connector.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateAccounts(r)
	d.validatePush(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnUnusedConnectors(r)
	d.warnLegacyAPIKey(r)
	d.warnSuspiciousSync(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) accountNames() []string {
	names := make([]string, 0, len(d.cfg.Accounts))
	for name := range d.cfg.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateAccounts checks that each enabled account has a connector able
// to run what the account is configured to do.
func (d *Doctor) validateAccounts(r *Result) {
	for _, name := range d.accountNames() {
		acct := d.cfg.Accounts[name]
		if !acct.IsEnabled() {
			continue
		}
		field := "accounts." + name
		c, ok := d.registry.Get(acct.Connector)
		if !ok {
			d.addError(r, "accounts", field+".connector",
				fmt.Sprintf("connector %q not found in connectors_dir", acct.Connector))
			continue
		}
		if acct.Origin == "" {
			d.addWarning(r, "accounts", field+".origin", "origin is empty; the connector must know its server")
		}
		if acct.Sync != nil && !c.Supports(command.FetchTimeline) {
			d.addError(r, "accounts", field+".sync",
				fmt.Sprintf("connector %q cannot run %s", c.Name, command.FetchTimeline))
		}
	}
}

func (d *Doctor) validatePush(r *Result) {
	if d.cfg.Push == nil {
		return
	}
	for i, ep := range d.cfg.Push.Endpoints {
		field := fmt.Sprintf("push.endpoints[%d]", i)
		acct, ok := d.cfg.Accounts[ep.Account]
		if !ok {
			continue
		}
		if !acct.IsEnabled() {
			d.addWarning(r, "push", field+".account",
				fmt.Sprintf("account %q is disabled; pushes will queue commands that cannot run", ep.Account))
			continue
		}
		if c, ok := d.registry.Get(acct.Connector); ok && !c.Supports(command.FetchTimeline) {
			d.addError(r, "push", field,
				fmt.Sprintf("connector %q cannot run %s", c.Name, command.FetchTimeline))
		}
		if len(ep.Secret) < 16 {
			d.addWarning(r, "push", field+".secret", "secret is shorter than 16 characters")
		}
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addError(r, "api", "api.auth", "API enabled but no api_key or tokens configured")
	}
}

var knownScopes = map[string]bool{
	auth.ScopeAll:       true,
	auth.ScopeQueueRead: true,
	auth.ScopeQueueRW:   true,
	auth.ScopeEventsRO:  true,
}

func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !knownScopes[scope] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected *, queue:ro, queue:rw or events:ro)", scope))
			}
		}
	}
}

func (d *Doctor) warnUnusedConnectors(r *Result) {
	used := make(map[string]bool, len(d.cfg.Accounts))
	for _, acct := range d.cfg.Accounts {
		used[acct.Connector] = true
	}
	for _, name := range d.registry.Names() {
		if !used[name] {
			d.addWarning(r, "unused", "",
				fmt.Sprintf("connector %q discovered but no account uses it", name))
		}
	}
}

func (d *Doctor) warnLegacyAPIKey(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer scoped tokens only")
	}
}

// warnSuspiciousSync flags sync settings that hammer a server or never
// settle.
func (d *Doctor) warnSuspiciousSync(r *Result) {
	for _, name := range d.accountNames() {
		acct := d.cfg.Accounts[name]
		if acct.Sync == nil || !acct.IsEnabled() {
			continue
		}
		field := fmt.Sprintf("accounts.%s.sync", name)
		every, err := config.ParseInterval(acct.Sync.Every)
		if err != nil {
			continue
		}
		if every < time.Minute {
			d.addWarning(r, "sync", field+".every",
				fmt.Sprintf("sync interval %q is very short (< 1m)", acct.Sync.Every))
		}
		if acct.Sync.Jitter >= every {
			d.addWarning(r, "sync", field+".jitter",
				fmt.Sprintf("jitter %s is not shorter than the interval %s", acct.Sync.Jitter, every))
		}
		if every < d.cfg.Service.TickInterval {
			d.addWarning(r, "sync", field+".every",
				fmt.Sprintf("interval %s is shorter than service.tick_interval %s; syncs run once per tick at most",
					every, d.cfg.Service.TickInterval))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

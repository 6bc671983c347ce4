package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the API.
const (
	ScopeAll       = "*"
	ScopeQueueRead = "queue:ro"
	ScopeQueueRW   = "queue:rw"
	ScopeEventsRO  = "events:ro"
)

// TokenConfig is a bearer token with a set of scopes. A non-empty
// Accounts list restricts the token to those accounts.
type TokenConfig struct {
	Token    string
	Scopes   []string
	Accounts []string
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Token  string
	Scopes map[string]struct{}
	// Accounts is nil for callers that may act for every account.
	Accounts map[string]struct{}
}

// Restricted reports whether p is limited to a subset of accounts.
func (p Principal) Restricted() bool {
	return p.Accounts != nil
}

// CanActFor reports whether p may see or change account's commands. The
// empty account means "every account" and is only allowed unrestricted.
func (p Principal) CanActFor(account string) bool {
	if p.Accounts == nil {
		return true
	}
	if account == "" {
		return false
	}
	_, ok := p.Accounts[account]
	return ok
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against configured tokens.
// If apiKey matches, it authenticates with full access.
func Authenticate(presented string, apiKey string, tokens []TokenConfig) (Principal, bool) {
	if constantTimeEqual(presented, apiKey) {
		return Principal{
			Token:  presented,
			Scopes: map[string]struct{}{ScopeAll: {}},
		}, true
	}

	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Token:    presented,
				Scopes:   normalizeScopes(t.Scopes),
				Accounts: accountSet(t.Accounts),
			}, true
		}
	}
	return Principal{}, false
}

func accountSet(accounts []string) map[string]struct{} {
	if len(accounts) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		out[strings.TrimSpace(a)] = struct{}{}
	}
	return out
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	// Write implies read.
	if _, ok := out[ScopeQueueRW]; ok {
		out[ScopeQueueRead] = struct{}{}
	}
	return out
}

// HasAnyScope reports whether p holds "*" or any of required.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}

package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"Bearer   abc  ", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer    ", "", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, err := ExtractBearerToken(r)
		if tt.wantErr {
			assert.Error(t, err, tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got)
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "viewer", Scopes: []string{ScopeQueueRead, " "}},
		{Token: "operator", Scopes: []string{ScopeQueueRW, ScopeEventsRO}},
	}

	p, ok := Authenticate("admin-key", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, "anything"))

	p, ok = Authenticate("viewer", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeQueueRead))
	assert.False(t, HasAnyScope(p, ScopeQueueRW))
	assert.Len(t, p.Scopes, 1)

	p, ok = Authenticate("operator", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeQueueRead), "rw implies ro")
	assert.True(t, HasAnyScope(p, ScopeEventsRO))

	_, ok = Authenticate("nope", "admin-key", tokens)
	assert.False(t, ok)
	_, ok = Authenticate("", "", nil)
	assert.False(t, ok, "empty api key never matches")
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
	assert.True(t, HasAnyScope(p))
}

func TestAccountRestrictedTokens(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "alice-bot", Scopes: []string{ScopeQueueRW}, Accounts: []string{"alice"}},
		{Token: "ops", Scopes: []string{ScopeQueueRW}},
	}

	p, ok := Authenticate("alice-bot", "", tokens)
	require.True(t, ok)
	assert.True(t, p.Restricted())
	assert.True(t, p.CanActFor("alice"))
	assert.False(t, p.CanActFor("bob"))
	assert.False(t, p.CanActFor(""), "restricted tokens must name an account")

	p, ok = Authenticate("ops", "", tokens)
	require.True(t, ok)
	assert.False(t, p.Restricted())
	assert.True(t, p.CanActFor(""))
	assert.True(t, p.CanActFor("bob"))
}

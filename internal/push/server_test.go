package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/queue"
	"github.com/mattjoyce/courier/internal/trigger/mocks"
)

const secret = "push-secret"

func testServer(t *testing.T, sub Submitter) http.Handler {
	t.Helper()
	cfg, err := FromConfig(&config.PushConfig{
		Listen: "127.0.0.1:0",
		Endpoints: []config.PushEndpoint{{
			Path:      "/push/alice",
			Account:   "alice",
			Timelines: []string{"notifications", "mentions"},
			Secret:    secret,
		}},
	})
	require.NoError(t, err)
	return New(cfg, sub, log.Discard()).Handler()
}

func post(h http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/push/alice", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(config.DefaultSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPushSubmitsRefreshes(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubmitter(ctrl)

	var got []*command.Command
	sub.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(3).
		DoAndReturn(func(_ context.Context, cmd *command.Command) (queue.AddOutcome, error) {
			got = append(got, cmd)
			if cmd.Timeline == command.TimelineMentions {
				return queue.Duplicate, nil
			}
			return queue.Added, nil
		})

	body := []byte(`{"note_id":"n7"}`)
	rec := post(testServer(t, sub), body, Sign(body, secret))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "alice", resp.Account)
	require.Len(t, resp.Submitted, 3)
	assert.Equal(t, "added", resp.Submitted[0].Outcome)
	assert.Equal(t, "duplicate", resp.Submitted[1].Outcome)
	assert.Equal(t, string(command.GetNote), resp.Submitted[2].Type)

	require.Len(t, got, 3)
	assert.Equal(t, command.TimelineNotifications, got[0].Timeline)
	assert.False(t, got[0].ManuallyLaunched)
	assert.Equal(t, "n7", got[2].EntityID)
}

func TestPushNarrowsTimelines(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubmitter(ctrl)
	sub.EXPECT().Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd *command.Command) (queue.AddOutcome, error) {
			assert.Equal(t, command.TimelineMentions, cmd.Timeline)
			return queue.Added, nil
		})

	body := []byte(`{"timelines":["mentions"]}`)
	rec := post(testServer(t, sub), body, Sign(body, secret))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	body = []byte(`{"timelines":["home"]}`)
	rec = post(testServer(t, sub), body, Sign(body, secret))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not refreshed by this endpoint")
}

func TestPushRejections(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubmitter(ctrl)
	h := testServer(t, sub)

	body := []byte(`{}`)
	tests := []struct {
		name      string
		body      []byte
		signature string
		want      int
	}{
		{"missing signature", body, "", http.StatusForbidden},
		{"wrong secret", body, Sign(body, "other"), http.StatusForbidden},
		{"not hex", body, "sha256=zz", http.StatusForbidden},
		{"bad json", []byte(`{`), Sign([]byte(`{`), secret), http.StatusBadRequest},
		{"too large", bytes.Repeat([]byte("x"), DefaultMaxBodySize+1), "sha256=00", http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h, tt.body, tt.signature)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/push/bob", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifySignatureFormats(t *testing.T) {
	body := []byte(`{"note_id":"1"}`)
	signed := Sign(body, secret)

	assert.NoError(t, verifySignature(body, signed, secret))
	assert.NoError(t, verifySignature(body, strings.TrimPrefix(signed, "sha256="), secret))
	assert.Error(t, verifySignature(body, signed, ""))
	assert.Error(t, verifySignature([]byte(`{}`), signed, secret))
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"64kb", 64 << 10, false},
		{"1MB", 1 << 20, false},
		{"0", 0, true},
		{"lots", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

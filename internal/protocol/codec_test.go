package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		want    []string
	}{
		{
			name: "timeline fetch",
			req: &Request{
				Protocol:    Version,
				ExecutionID: "exec-123",
				Command:     "fetch-timeline",
				Account:     "alice",
				Timeline:    "home",
				Config:      map[string]any{"token": "x"},
				State:       map[string]any{"since_id": "42"},
				DeadlineAt:  time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			},
			want: []string{`"protocol":1`, `"execution_id":"exec-123"`, `"command":"fetch-timeline"`, `"timeline":"home"`},
		},
		{
			name: "post carries body and attachments",
			req: &Request{
				Protocol:  Version,
				Command:   "post-note",
				Account:   "alice",
				Body:      "hello",
				EntityIDs: []string{"m1", "m2"},
			},
			want: []string{`"body":"hello"`, `"entity_ids":["m1","m2"]`},
		},
		{
			name:    "unsupported protocol version",
			req:     &Request{Protocol: 2, Command: "like"},
			wantErr: true,
		},
		{
			name:    "missing command",
			req:     &Request{Protocol: Version},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output %s missing %s", buf.String(), w)
				}
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, r *Response)
	}{
		{
			name:  "ok with items",
			input: `{"status":"ok","items":[{"id":"n1","kind":"note","notification":"mention"}],"downloaded":3,"state_updates":{"since_id":"n1"}}`,
			check: func(t *testing.T, r *Response) {
				if len(r.Items) != 1 || r.Items[0].Notification != "mention" {
					t.Errorf("items = %+v", r.Items)
				}
				if r.Downloaded != 3 {
					t.Errorf("downloaded = %d", r.Downloaded)
				}
				if r.StateUpdates["since_id"] != "n1" {
					t.Errorf("state_updates = %v", r.StateUpdates)
				}
			},
		},
		{
			name:  "error with kind and retry=false",
			input: `{"status":"error","error":"token revoked","error_kind":"auth","retry":false}`,
			check: func(t *testing.T, r *Response) {
				if r.ErrorKind != KindAuth {
					t.Errorf("error_kind = %q", r.ErrorKind)
				}
				if r.ShouldRetry() {
					t.Error("ShouldRetry() = true, want false")
				}
			},
		},
		{
			name:  "retry defaults to true",
			input: `{"status":"error","error":"502"}`,
			check: func(t *testing.T, r *Response) {
				if !r.ShouldRetry() {
					t.Error("ShouldRetry() = false, want true")
				}
			},
		},
		{name: "missing status", input: `{"items":[]}`, wantErr: true},
		{name: "bad status", input: `{"status":"maybe"}`, wantErr: true},
		{name: "error without message", input: `{"status":"error"}`, wantErr: true},
		{name: "unknown field", input: `{"status":"ok","extra":1}`, wantErr: true},
		{name: "item without id", input: `{"status":"ok","items":[{"kind":"note"}]}`, wantErr: true},
		{name: "not json", input: `hello`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}

func TestDecodeResponseLenient(t *testing.T) {
	resp, raw, err := DecodeResponseLenient(strings.NewReader(`{"status":"ok","extra":true}`))
	if err != nil {
		t.Fatalf("DecodeResponseLenient() error = %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
	if !bytes.Contains(raw, []byte("extra")) {
		t.Errorf("raw = %s", raw)
	}

	_, raw, err = DecodeResponseLenient(strings.NewReader("panic: boom"))
	if err == nil {
		t.Fatal("expected error for non-JSON output")
	}
	if string(raw) != "panic: boom" {
		t.Errorf("raw = %q", raw)
	}

	if _, _, err := DecodeResponseLenient(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty output")
	}
}

// Command sandbox is a connector that serves a fake social network from a
// JSON fixture file. It speaks the same stdin/stdout protocol as real
// connectors and is used to exercise a courier setup without a server.
//
// Build it next to its manifest:
//
//	go build -o connectors/sandbox/sandbox ./connectors/sandbox
//
// Account config keys: fixture (path), page_size, offline.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/courier/internal/protocol"
)

const defaultPageSize = 20

// fixture is the fake network: timelines list note ids newest first.
type fixture struct {
	Timelines map[string][]string       `json:"timelines"`
	Notes     map[string]map[string]any `json:"notes"`
	Actors    map[string]map[string]any `json:"actors"`
}

type sandboxConfig struct {
	Fixture  string
	PageSize int
	Offline  bool
}

func main() {
	resp := handle(os.Stdin)
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle(in io.Reader) protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err), "", false)
	}
	if req.Protocol != protocol.Version {
		return errResp(fmt.Sprintf("unsupported protocol %d", req.Protocol), protocol.KindUnsupported, false)
	}

	cfg := parseConfig(req.Config)
	if cfg.Offline {
		return errResp("network unreachable (offline mode)", protocol.KindNetwork, true)
	}
	fx, err := loadFixture(cfg.Fixture)
	if err != nil {
		return errResp(err.Error(), protocol.KindIO, false)
	}

	switch strings.TrimSpace(req.Command) {
	case "fetch-timeline":
		return fetchTimeline(req, cfg, fx)
	case "fetch-older-timeline":
		return fetchOlder(req, cfg, fx)
	case "get-note":
		return getNote(req, fx)
	case "get-actor":
		return getActor(req, fx)
	case "post-note":
		return postNote(req)
	case "like", "undo-like", "announce", "undo-announce", "delete-note":
		if _, ok := fx.Notes[req.EntityID]; !ok {
			return errResp(fmt.Sprintf("note %q not found", req.EntityID), protocol.KindNotFound, false)
		}
		return okResp(nil, 0, nil, info(fmt.Sprintf("%s %s", req.Command, req.EntityID)))
	default:
		return errResp(fmt.Sprintf("unsupported command %q", req.Command), protocol.KindUnsupported, false)
	}
}

// fetchTimeline returns notes newer than the since_id cursor.
func fetchTimeline(req protocol.Request, cfg sandboxConfig, fx *fixture) protocol.Response {
	ids, ok := fx.Timelines[req.Timeline]
	if !ok {
		return errResp(fmt.Sprintf("timeline %q not in fixture", req.Timeline), protocol.KindNotFound, false)
	}
	since := asString(req.State["since_id"])

	var fresh []string
	for _, id := range ids {
		if id == since {
			break
		}
		fresh = append(fresh, id)
	}
	if len(fresh) > cfg.PageSize {
		fresh = fresh[:cfg.PageSize]
	}
	if len(fresh) == 0 {
		return okResp(nil, 0, nil)
	}

	cursor := map[string]any{"since_id": fresh[0]}
	if asString(req.State["max_id"]) == "" {
		cursor["max_id"] = fresh[len(fresh)-1]
	}
	return okResp(noteItems(fx, fresh), len(fresh), cursor)
}

// fetchOlder pages backwards from the max_id cursor. Backfills leave the
// cursor alone, so the caller passes the oldest id it holds as the query.
func fetchOlder(req protocol.Request, cfg sandboxConfig, fx *fixture) protocol.Response {
	ids, ok := fx.Timelines[req.Timeline]
	if !ok {
		return errResp(fmt.Sprintf("timeline %q not in fixture", req.Timeline), protocol.KindNotFound, false)
	}
	maxID := strings.TrimSpace(req.Query)
	if maxID == "" {
		maxID = asString(req.State["max_id"])
	}

	start := 0
	if maxID != "" {
		start = len(ids)
		for i, id := range ids {
			if id == maxID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+cfg.PageSize, len(ids))
	if start >= end {
		return okResp(nil, 0, nil)
	}
	page := ids[start:end]
	return okResp(noteItems(fx, page), len(page), nil)
}

func getNote(req protocol.Request, fx *fixture) protocol.Response {
	if _, ok := fx.Notes[req.EntityID]; !ok {
		return errResp(fmt.Sprintf("note %q not found", req.EntityID), protocol.KindNotFound, false)
	}
	return okResp(noteItems(fx, []string{req.EntityID}), 1, nil)
}

func getActor(req protocol.Request, fx *fixture) protocol.Response {
	actor, ok := fx.Actors[req.EntityID]
	if !ok {
		return errResp(fmt.Sprintf("actor %q not found", req.EntityID), protocol.KindNotFound, false)
	}
	return okResp([]protocol.Item{{ID: req.EntityID, Kind: "actor", Payload: actor}}, 1, nil)
}

// postNote accepts any non-empty body; nothing is written back to the fixture.
func postNote(req protocol.Request) protocol.Response {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return errResp("note body is empty", "", false)
	}
	item := protocol.Item{
		ID:   uuid.NewString(),
		Kind: "note",
		Payload: map[string]any{
			"content":    body,
			"author":     req.Account,
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	return okResp([]protocol.Item{item}, 1, nil, info("posted "+item.ID))
}

func noteItems(fx *fixture, ids []string) []protocol.Item {
	items := make([]protocol.Item, 0, len(ids))
	for _, id := range ids {
		payload := fx.Notes[id]
		item := protocol.Item{ID: id, Kind: "note", Payload: payload}
		if n := asString(payload["notification"]); n != "" {
			item.Notification = n
		}
		items = append(items, item)
	}
	return items
}

func loadFixture(path string) (*fixture, error) {
	if path == "" {
		return &fixture{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &fx, nil
}

func parseConfig(cfg map[string]any) sandboxConfig {
	out := sandboxConfig{
		Fixture:  asString(cfg["fixture"]),
		PageSize: asInt(cfg["page_size"], defaultPageSize),
	}
	if v, ok := cfg["offline"].(bool); ok {
		out.Offline = v
	}
	if out.PageSize <= 0 {
		out.PageSize = defaultPageSize
	}
	return out
}

func info(msg string) protocol.LogEntry {
	return protocol.LogEntry{Level: "info", Message: msg}
}

func okResp(items []protocol.Item, downloaded int, state map[string]any, logs ...protocol.LogEntry) protocol.Response {
	resp := protocol.Response{Status: "ok", Items: items, Downloaded: downloaded}
	if len(state) > 0 {
		resp.StateUpdates = state
	}
	if len(logs) > 0 {
		resp.Logs = logs
	}
	return resp
}

func errResp(message string, kind protocol.ErrorKind, retry bool) protocol.Response {
	return protocol.Response{
		Status:    "error",
		Error:     message,
		ErrorKind: kind,
		Retry:     &retry,
		Logs:      []protocol.LogEntry{{Level: "error", Message: message}},
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asInt(v any, fallback int) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return fallback
	}
}

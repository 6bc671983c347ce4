package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/queue"
	"github.com/mattjoyce/courier/internal/runner"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.runner.QueueSnapshot()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    snap.Len(),
		Executing:     len(snap.Executing),
		InForeground:  s.runner.Foreground().InForeground,
		EventsDropped: s.events.Dropped(),
	})
}

// handleQueues handles GET /queues.
func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	snap := s.runner.QueueSnapshot()
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.Restricted() {
		snap = snap.Filter(func(e queue.Entry) bool { return p.CanActFor(e.Account) })
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleHistory handles GET /history?account=&limit=.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "command history is not enabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	account := r.URL.Query().Get("account")
	if !s.allowedAccount(r, account) {
		s.writeError(w, http.StatusForbidden, "token is limited to specific accounts; pass account=")
		return
	}
	entries, err := s.history.Recent(r.Context(), account, limit)
	if err != nil {
		s.logger.Error("failed to read command history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read command history")
		return
	}
	if entries == nil {
		entries = []runner.HistoryEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// handleSubmit handles POST /commands.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cmd, err := req.toCommand()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.allowedAccount(r, cmd.Account) {
		s.writeError(w, http.StatusForbidden, "token may not act for account "+strconv.Quote(cmd.Account))
		return
	}

	outcome, err := s.runner.Submit(r.Context(), cmd)
	if err != nil {
		var verr *command.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to submit command", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit command")
		return
	}

	status := http.StatusAccepted
	if outcome == queue.Duplicate || outcome == queue.InError {
		status = http.StatusConflict
	}
	respondJSON(w, status, CommandResponse{
		ID:      cmd.ID,
		Key:     cmd.Key().String(),
		Outcome: outcome.String(),
	})
}

func (req CommandRequest) toCommand() (*command.Command, error) {
	t, err := command.ParseType(req.Type)
	if err != nil {
		return nil, err
	}
	tl, err := command.ParseTimeline(req.Timeline)
	if err != nil {
		return nil, err
	}
	return &command.Command{
		Type:             t,
		Account:          req.Account,
		Timeline:         tl,
		EntityID:         req.EntityID,
		EntityIDs:        req.EntityIDs,
		Query:            req.Query,
		Body:             req.Body,
		ManuallyLaunched: req.Manual,
		InForeground:     req.InForeground,
	}, nil
}

// handleCancel handles DELETE /commands?account=&type=. At least one
// filter is required unless all=true.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	account := q.Get("account")
	var t command.Type
	if v := q.Get("type"); v != "" {
		parsed, err := command.ParseType(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		t = parsed
	}
	if account == "" && t == "" && q.Get("all") != "true" {
		s.writeError(w, http.StatusBadRequest, "account or type filter required (or all=true)")
		return
	}
	if !s.allowedAccount(r, account) {
		s.writeError(w, http.StatusForbidden, "token is limited to specific accounts; pass account=")
		return
	}

	removed := s.runner.CancelAll(r.Context(), runner.Matching(account, t))
	resp := CancelResponse{Canceled: len(removed), IDs: make([]int64, 0, len(removed))}
	for _, cmd := range removed {
		resp.IDs = append(resp.IDs, cmd.ID)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRunNow handles POST /run.
func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	s.runner.RunNow()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

func (s *Server) foregroundState() ForegroundState {
	fg := s.runner.Foreground()
	return ForegroundState{InForeground: &fg.InForeground, SyncWhileUsing: &fg.SyncWhileUsing}
}

// handleGetForeground handles GET /foreground.
func (s *Server) handleGetForeground(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.foregroundState())
}

// handlePutForeground handles PUT /foreground.
func (s *Server) handlePutForeground(w http.ResponseWriter, r *http.Request) {
	var req ForegroundState
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.InForeground == nil && req.SyncWhileUsing == nil {
		s.writeError(w, http.StatusBadRequest, "nothing to change")
		return
	}
	if req.SyncWhileUsing != nil {
		s.runner.SetSyncWhileUsing(*req.SyncWhileUsing)
	}
	if req.InForeground != nil {
		s.runner.SetForeground(*req.InForeground)
	}
	respondJSON(w, http.StatusOK, s.foregroundState())
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// allowedAccount reports whether the request's principal may act for
// account. An empty account stands for all of them.
func (s *Server) allowedAccount(r *http.Request, account string) bool {
	p, ok := auth.PrincipalFromContext(r.Context())
	return !ok || p.CanActFor(account)
}

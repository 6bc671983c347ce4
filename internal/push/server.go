package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/queue"
)

// Submitter accepts the refresh commands a push produces.
type Submitter interface {
	Submit(ctx context.Context, cmd *command.Command) (queue.AddOutcome, error)
}

// Body is the optional JSON payload of a push.
type Body struct {
	Timelines []string `json:"timelines,omitempty"`
	NoteID    string   `json:"note_id,omitempty"`
}

// Submission reports one command a push produced.
type Submission struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
}

// Response is returned for accepted pushes.
type Response struct {
	Account   string       `json:"account"`
	Submitted []Submission `json:"submitted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server receives pushes.
type Server struct {
	config    Config
	submitter Submitter
	logger    *slog.Logger
	server    *http.Server

	endpoints map[string]*Endpoint
}

// New creates a push receiver.
func New(config Config, sub Submitter, logger *slog.Logger) *Server {
	endpoints := make(map[string]*Endpoint, len(config.Endpoints))
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		endpoints[ep.Path] = ep
	}
	return &Server{
		config:    config,
		submitter: sub,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("push receiver starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("push receiver shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("push receiver shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("push receiver error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handlePush)
	}
	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("push request",
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := verifySignature(body, r.Header.Get(endpoint.SignatureHeader), endpoint.Secret); err != nil {
		s.logger.Warn("push signature rejected", "path", r.URL.Path, "header", endpoint.SignatureHeader)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	var payload Body
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	cmds, err := commandsFor(endpoint, payload)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := Response{Account: endpoint.Account, Submitted: make([]Submission, 0, len(cmds))}
	for _, cmd := range cmds {
		outcome, err := s.submitter.Submit(r.Context(), cmd)
		var verr *command.ValidationError
		if errors.As(err, &verr) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			s.logger.Error("failed to submit push command", "account", endpoint.Account, "type", cmd.Type, "error", err)
			s.respondError(w, http.StatusInternalServerError, "failed to submit command")
			return
		}
		resp.Submitted = append(resp.Submitted, Submission{
			ID:      cmd.ID,
			Type:    string(cmd.Type),
			Key:     cmd.Key().String(),
			Outcome: outcome.String(),
		})
	}

	s.logger.Info("push accepted", "account", endpoint.Account, "commands", len(resp.Submitted))
	s.respondJSON(w, http.StatusAccepted, resp)
}

// commandsFor builds the refresh commands for one push.
func commandsFor(ep *Endpoint, payload Body) ([]*command.Command, error) {
	timelines := ep.Timelines
	if len(payload.Timelines) > 0 {
		timelines = nil
		for _, name := range payload.Timelines {
			tl := command.TimelineType(name)
			if !slices.Contains(ep.Timelines, tl) {
				return nil, fmt.Errorf("timeline %q is not refreshed by this endpoint", name)
			}
			timelines = append(timelines, tl)
		}
	}

	cmds := make([]*command.Command, 0, len(timelines)+1)
	for _, tl := range timelines {
		cmds = append(cmds, &command.Command{
			Type:     command.FetchTimeline,
			Account:  ep.Account,
			Timeline: tl,
		})
	}
	if payload.NoteID != "" {
		cmds = append(cmds, &command.Command{
			Type:     command.GetNote,
			Account:  ep.Account,
			EntityID: payload.NoteID,
		})
	}
	return cmds, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message})
}

// Package server exposes the memory subsystem to the host agent process:
// the tool gateway, the exchange intake that drives extraction and
// segmentation, and the WebSocket event hub.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/kioku-ai/kioku/internal/conversation"
	"github.com/kioku-ai/kioku/internal/extraction"
	"github.com/kioku-ai/kioku/internal/gateway"
	"github.com/kioku-ai/kioku/internal/notify"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/pkg/types"
)

// Kicker requests an out-of-band consolidation pass. The scheduler
// implements it; nil disables the session-close trigger.
type Kicker interface {
	Kick()
}

// Deps carries the wired subsystem components.
type Deps struct {
	Store     storage.Store
	Gateway   *gateway.Gateway
	Pipeline  *extraction.Pipeline
	Segmenter *conversation.Controller
	Hub       *notify.Hub
	Scheduler Kicker
}

// Server is the HTTP front of the memory subsystem.
type Server struct {
	deps Deps
	http *http.Server
}

// New builds the server for addr. The hub must already be running.
func New(addr string, deps Deps) *Server {
	s := &Server{deps: deps}

	mux := http.NewServeMux()
	mux.Handle("/ws", deps.Hub)
	mux.HandleFunc("/api/tools", s.handleTools)
	mux.HandleFunc("/api/tools/invoke", s.handleInvoke)
	mux.HandleFunc("/api/exchange", s.handleExchange)
	mux.HandleFunc("/api/sessions/close", s.handleCloseSession)
	mux.HandleFunc("/api/stats", s.handleStats)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           securityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// securityHeaders adds the standard response headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully. It returns the bound address through the channel before
// serving, so callers (and tests using port 0) learn the real port.
func (s *Server) Start(ctx context.Context, addrCh chan<- string) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.http.Addr, err)
	}
	if addrCh != nil {
		addrCh <- ln.Addr().String()
	}
	log.Printf("server: listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Gateway.Definitions())
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var inv gateway.Invocation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	// Tool failures stay in-protocol: the HTTP status is 200 and the
	// result envelope carries the structured error.
	writeJSON(w, http.StatusOK, s.deps.Gateway.Invoke(r.Context(), inv))
}

type exchangeRequest struct {
	UserMessage      string `json:"user_message"`
	AssistantMessage string `json:"assistant_message"`
}

type exchangeResponse struct {
	SessionID         string `json:"session_id"`
	State             string `json:"state"`
	MemoriesCommitted int    `json:"memories_committed"`
	GoalsCommitted    int    `json:"goals_committed"`
	ProfileCommitted  int    `json:"profile_committed"`
	Trigger           string `json:"trigger,omitempty"`
}

// handleExchange records one completed exchange, runs extraction and then
// the segmentation triggers. A session is opened on first use.
func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserMessage == "" || req.AssistantMessage == "" {
		http.Error(w, "user_message and assistant_message are required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	session, err := s.deps.Store.GetOpenSession(ctx)
	if err != nil {
		session, err = s.deps.Store.OpenSession(ctx)
		if err != nil {
			http.Error(w, "failed to open session", http.StatusInternalServerError)
			return
		}
	}

	userTurn := &types.ConversationTurn{SessionID: session.ID, Role: types.RoleUser, Content: req.UserMessage}
	if err := s.deps.Store.AppendTurn(ctx, userTurn); err != nil {
		http.Error(w, "failed to record turn", http.StatusInternalServerError)
		return
	}
	assistantTurn := &types.ConversationTurn{SessionID: session.ID, Role: types.RoleAssistant, Content: req.AssistantMessage}
	if err := s.deps.Store.AppendTurn(ctx, assistantTurn); err != nil {
		http.Error(w, "failed to record turn", http.StatusInternalServerError)
		return
	}

	outcome := s.deps.Pipeline.ProcessExchange(ctx, req.UserMessage, req.AssistantMessage)
	if outcome.Committed() && s.deps.Hub != nil {
		s.deps.Hub.MemoryCommitted(outcome.MemoriesCommitted, outcome.GoalsCommitted, outcome.ProfileCommitted)
	}

	trigger, err := s.deps.Segmenter.Evaluate(ctx, session.ID, req.UserMessage, assistantTurn.ID, outcome.Committed())
	if err != nil {
		log.Printf("server: segmentation: %v", err)
	}
	if trigger != conversation.TriggerNone && s.deps.Hub != nil {
		s.deps.Hub.SessionBoundary(session.ID, string(trigger))
	}

	writeJSON(w, http.StatusOK, exchangeResponse{
		SessionID:         session.ID,
		State:             outcome.State.String(),
		MemoriesCommitted: outcome.MemoriesCommitted,
		GoalsCommitted:    outcome.GoalsCommitted,
		ProfileCommitted:  outcome.ProfileCommitted,
		Trigger:           string(trigger),
	})
}

// handleCloseSession ends the open session and kicks consolidation so the
// summary is written promptly.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	session, err := s.deps.Store.GetOpenSession(r.Context())
	if err != nil {
		http.Error(w, "no open session", http.StatusNotFound)
		return
	}
	if err := s.deps.Store.CloseSession(r.Context(), session.ID); err != nil {
		http.Error(w, "failed to close session", http.StatusInternalServerError)
		return
	}
	if s.deps.Scheduler != nil {
		s.deps.Scheduler.Kick()
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": session.ID})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	provider, ok := s.deps.Store.(storage.StatsProvider)
	if !ok {
		http.Error(w, "backend does not report statistics", http.StatusNotImplemented)
		return
	}
	stats, err := provider.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to collect statistics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: write response: %v", err)
	}
}

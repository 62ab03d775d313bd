// Package control implements the daemon's loopback-only HTTP control
// surface (spec.md §4.8): session registration, approval handoff, and
// execution-record lookup. Localhost is the trust boundary; there is no
// authentication layer on top of it.
package control

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dundas/teleportation/internal/domain"
	"github.com/dundas/teleportation/internal/execcache"
	"github.com/dundas/teleportation/internal/queue"
	"github.com/dundas/teleportation/internal/registry"
)

// MaxBodyBytes bounds every request body (spec.md §4.8, §8).
const MaxBodyBytes = 1 << 20 // 1 MiB

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,256}$`)
var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,100}$`)

// Server wires the registry, queue, and execution cache into an HTTP API
// bound to loopback only.
type Server struct {
	reg       *registry.Registry
	queue     *queue.Queue
	cache     *execcache.Cache
	log       zerolog.Logger
	startedAt time.Time
	router    chi.Router
}

// New builds the chi router for the control surface.
func New(reg *registry.Registry, q *queue.Queue, cache *execcache.Cache, log zerolog.Logger) *Server {
	s := &Server{reg: reg, queue: q, cache: cache, log: log, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(bodyLimit)

	r.Get("/health", s.handleHealth)
	r.Post("/sessions/register", s.handleRegister)
	r.Post("/sessions/deregister", s.handleDeregister)
	r.Post("/approvals/handoff", s.handleHandoff)
	r.Get("/executions/{approvalID}", s.handleExecution)

	s.router = r
	return s
}

// ListenAndServe returns an http.Server for addr with the control router as
// its handler; it does not bind or serve until the caller starts it. The
// caller is responsible for passing a loopback address.
func (s *Server) ListenAndServe(addr string) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

func bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status           string  `json:"status"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Sessions         int     `json:"sessions"`
	QueueSize        int     `json:"queue"`
	CachedExecutions int     `json:"executions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		UptimeSeconds:    time.Since(s.startedAt).Seconds(),
		Sessions:         s.reg.Len(),
		QueueSize:        s.queue.Len(),
		CachedExecutions: s.cache.Len(),
	})
}

type registerRequest struct {
	SessionID       string             `json:"session_id"`
	ClaudeSessionID string             `json:"claude_session_id"`
	Cwd             string             `json:"cwd"`
	Meta            domain.SessionMeta `json:"meta"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !idPattern.MatchString(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	s.reg.Register(domain.Session{
		ID:              req.SessionID,
		ClaudeSessionID: req.ClaudeSessionID,
		Cwd:             req.Cwd,
		Meta:            req.Meta,
	})
	w.WriteHeader(http.StatusNoContent)
}

type deregisterRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var req deregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !idPattern.MatchString(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	s.reg.Deregister(req.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

type handoffRequest struct {
	ApprovalID string         `json:"approval_id"`
	SessionID  string         `json:"session_id"`
	ToolName   string         `json:"tool_name"`
	ToolInput  map[string]any `json:"tool_input"`
}

func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	var req handoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !idPattern.MatchString(req.ApprovalID) || !idPattern.MatchString(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid approval_id or session_id")
		return
	}
	if !toolNamePattern.MatchString(req.ToolName) {
		writeError(w, http.StatusBadRequest, "invalid tool_name")
		return
	}

	// Mirror the poller's dedup guard (relay/poller.go): an approval already
	// resolved into the execution cache (dequeued, executing, or finished)
	// must not be re-enqueued just because it no longer sits in the queue's
	// present set.
	if s.cache.Contains(req.ApprovalID) {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	approval := domain.Approval{
		ID:        req.ApprovalID,
		SessionID: req.SessionID,
		ToolName:  req.ToolName,
		ToolInput: req.ToolInput,
		QueuedAt:  time.Now(),
	}
	if err := s.queue.Enqueue(approval); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":      "Approval queue full",
			"queue_size": s.queue.Len(),
			"max_size":   queue.Capacity,
		})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")
	if !idPattern.MatchString(approvalID) {
		writeError(w, http.StatusBadRequest, "invalid approval id")
		return
	}
	rec, ok := s.cache.Get(approvalID)
	if !ok {
		writeError(w, http.StatusNotFound, "no execution record for this approval id")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

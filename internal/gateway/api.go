// ABOUTME: Health and debug HTTP handlers for operators
// ABOUTME: Liveness, readiness, sanitized session dump, and ledger queries

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/rollcall-gateway/internal/session"
	"github.com/2389/rollcall-gateway/internal/store"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

// ReadyResponse is the JSON response for GET /health/ready.
type ReadyResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	Ledger         string `json:"ledger"`
}

// SessionsResponse is the JSON response for GET /debug/sessions.
type SessionsResponse struct {
	ActiveSessions int                     `json:"active_sessions"`
	Sessions       map[string]session.View `json:"sessions"`
}

// ExchangeResponse is one ledger exchange in JSON form.
type ExchangeResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	MessageID   string `json:"message_id,omitempty"`
	Inbound     string `json:"inbound"`
	Reply       string `json:"reply"`
	StateBefore string `json:"state_before"`
	StateAfter  string `json:"state_after"`
	DurationMS  int64  `json:"duration_ms"`
	CreatedAt   string `json:"created_at"`
}

// LedgerResponse is the JSON response for GET /debug/ledger.
type LedgerResponse struct {
	Exchanges []ExchangeResponse `json:"exchanges"`
}

// CommitResponse is one attendance commit in JSON form.
type CommitResponse struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	AssignmentID   string   `json:"assignment_id"`
	ClassSessionID string   `json:"class_session_id"`
	Marked         []string `json:"marked"`
	Failed         []string `json:"failed,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

// CommitsResponse is the JSON response for GET /debug/commits.
type CommitsResponse struct {
	Commits []CommitResponse `json:"commits"`
}

func toExchangeResponse(e *store.Exchange) ExchangeResponse {
	return ExchangeResponse{
		ID:          e.ID,
		UserID:      e.UserID,
		MessageID:   e.MessageID,
		Inbound:     e.Inbound,
		Reply:       e.Reply,
		StateBefore: e.StateBefore,
		StateAfter:  e.StateAfter,
		DurationMS:  e.Duration.Milliseconds(),
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleHealth returns 200 OK while the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := g.now()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: now.UTC().Format(time.RFC3339),
		Uptime:    now.Sub(g.startedAt).Round(time.Second).String(),
	})
}

// handleReady returns 200 OK unless the gateway is shutting down.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status:         "ready",
		ActiveSessions: g.sessions.Len(),
		Ledger:         "enabled",
	}
	if g.ledger == nil {
		resp.Ledger = "disabled"
	}

	status := http.StatusOK
	if g.draining.Load() {
		resp.Status = "draining"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleDebugSessions returns every live session with its token masked.
func (g *Gateway) handleDebugSessions(w http.ResponseWriter, r *http.Request) {
	snap := g.sessions.Snapshot()
	writeJSON(w, http.StatusOK, SessionsResponse{
		ActiveSessions: len(snap),
		Sessions:       snap,
	})
}

// handleDebugLedger lists recorded exchanges, newest first.
// Query: user_id, limit (default 50, max 500), since (RFC3339).
func (g *Gateway) handleDebugLedger(w http.ResponseWriter, r *http.Request) {
	if g.ledger == nil {
		writeJSONError(w, http.StatusNotFound, "ledger disabled")
		return
	}

	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	filter := store.ExchangeFilter{UserID: q.Get("user_id"), Limit: limit}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &since
	}

	exchanges, err := g.ledger.ListExchanges(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list exchanges", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := LedgerResponse{Exchanges: make([]ExchangeResponse, 0, len(exchanges))}
	for _, e := range exchanges {
		resp.Exchanges = append(resp.Exchanges, toExchangeResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDebugCommits lists confirmed attendance writes for one class session.
func (g *Gateway) handleDebugCommits(w http.ResponseWriter, r *http.Request) {
	if g.ledger == nil {
		writeJSONError(w, http.StatusNotFound, "ledger disabled")
		return
	}

	q := r.URL.Query()
	classSessionID := q.Get("class_session_id")
	if classSessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "class_session_id is required")
		return
	}
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}

	commits, err := g.ledger.ListAttendanceCommits(r.Context(), classSessionID, limit)
	if err != nil {
		g.logger.Error("failed to list attendance commits", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := CommitsResponse{Commits: make([]CommitResponse, 0, len(commits))}
	for _, c := range commits {
		resp.Commits = append(resp.Commits, CommitResponse{
			ID:             c.ID,
			UserID:         c.UserID,
			AssignmentID:   c.AssignmentID,
			ClassSessionID: c.ClassSessionID,
			Marked:         c.Marked,
			Failed:         c.Failed,
			CreatedAt:      c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseLimit reads an optional positive limit, writing a 400 when invalid.
func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

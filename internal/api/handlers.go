package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wesm/inboxsweep/internal/gateway"
	"github.com/wesm/inboxsweep/internal/gmail"
	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/session"
	"github.com/wesm/inboxsweep/internal/store"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ToggleRequest is the body of POST /sessions/{mode}/toggle.
type ToggleRequest struct {
	ID       string `json:"id"`
	Selected bool   `json:"selected"`
}

// JournalResponse lists commits.
type JournalResponse struct {
	Commits []*store.CommitRecord `json:"commits"`
}

// CommitDetail is one commit with its per-message outcomes.
type CommitDetail struct {
	ID        string   `json:"id"`
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// StatsResponse summarises the journal.
type StatsResponse struct {
	Accounts     int64 `json:"accounts"`
	Commits      int64 `json:"commits"`
	Messages     int64 `json:"messages"`
	Deleted      int64 `json:"deleted"`
	Archived     int64 `json:"archived"`
	Unsubscribed int64 `json:"unsubscribed"`
	DatabaseSize int64 `json:"database_size_bytes"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

type modeKey struct{}

// modeCtx validates the {mode} URL parameter.
func modeCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mode, err := mail.ParseMode(chi.URLParam(r, "mode"))
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown_mode", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), modeKey{}, mode)))
	})
}

func modeFrom(r *http.Request) mail.Mode {
	mode, _ := r.Context().Value(modeKey{}).(mail.Mode)
	return mode
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, c *session.Controller)

// withSession resolves the existing controller for the request's mode.
// Actions on a mode that was never opened are 404s.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.sessions.Lookup(modeFrom(r))
		if !ok {
			writeError(w, http.StatusNotFound, "no_session", "Open the session with GET first")
			return
		}
		h(w, r, c)
	}
}

// writeSessionError maps controller errors to HTTP statuses.
func (s *Server) writeSessionError(w http.ResponseWriter, mode mail.Mode, err error) {
	switch {
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusGone, "session_closed", err.Error())
	default:
		s.logger.Error("session operation failed", "mode", mode, "error", err)
		writeError(w, http.StatusBadGateway, "provider_error", err.Error())
	}
}

// handleGetSession opens the session for a mode, loading the first page on
// first use, and returns its view.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	mode := modeFrom(r)
	c, err := s.sessions.Get(mode)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_mode", err.Error())
		return
	}
	if err := c.Initialize(r.Context()); err != nil {
		s.writeSessionError(w, mode, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleDisposeSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Dispose(modeFrom(r)) {
		writeError(w, http.StatusNotFound, "no_session", "No open session for this mode")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectAll(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	c.SelectAll()
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleDeselectAll(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	c.DeselectAll()
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	var req ToggleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Body must be {\"id\": string, \"selected\": bool}")
		return
	}
	if !c.ToggleSelection(req.ID, req.Selected) {
		writeError(w, http.StatusNotFound, "not_in_batch", "Message is not in the current batch")
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	if err := c.SkipBatch(); err != nil {
		s.writeSessionError(w, c.Mode(), err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

// handleProcess commits the selection. The commit is detached from the
// request so a dropped client cannot leave it half applied.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	if err := c.ProcessSelected(context.WithoutCancel(r.Context())); err != nil {
		s.writeSessionError(w, c.Mode(), err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleStartOver(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	if err := c.StartOver(r.Context()); err != nil {
		s.writeSessionError(w, c.Mode(), err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleMessageBody(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := s.bodies.GetMessageBody(r.Context(), id)
	if err != nil {
		if gmail.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "Message not found")
			return
		}
		s.logger.Error("failed to fetch message body", "id", id, "error", err)
		writeError(w, http.StatusBadGateway, "provider_error", "Failed to fetch message body")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

const maxJournalLimit = 500

func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable", "Journal not configured")
		return
	}

	q := r.URL.Query()
	opts := store.ListOptions{Account: q.Get("account")}
	if m := q.Get("mode"); m != "" {
		mode, err := mail.ParseMode(m)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
			return
		}
		opts.Mode = mode
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since", "since must be RFC3339")
			return
		}
		opts.Since = t
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		opts.Limit = min(n, maxJournalLimit)
	}

	commits, err := s.journal.ListCommits(r.Context(), opts)
	if err != nil {
		s.logger.Error("failed to list commits", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read journal")
		return
	}
	writeJSON(w, http.StatusOK, JournalResponse{Commits: commits})
}

func (s *Server) handleGetCommit(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable", "Journal not configured")
		return
	}
	id := chi.URLParam(r, "id")
	succeeded, failed, err := s.journal.CommitMessages(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to read commit", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read journal")
		return
	}
	// Every recorded commit has at least one message.
	if len(succeeded) == 0 && len(failed) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "Commit not found")
		return
	}
	writeJSON(w, http.StatusOK, CommitDetail{ID: id, Succeeded: nonNil(succeeded), Failed: nonNil(failed)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable", "Journal not configured")
		return
	}
	stats, err := s.journal.GetStats(r.Context())
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Accounts:     stats.SourceCount,
		Commits:      stats.CommitCount,
		Messages:     stats.MessageCount,
		Deleted:      stats.Deleted,
		Archived:     stats.Archived,
		Unsubscribed: stats.Unsubscribed,
		DatabaseSize: stats.DatabaseSize,
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ BodyFetcher = (*gateway.Gateway)(nil)

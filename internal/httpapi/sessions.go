package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/pipeline"
	"github.com/ent0n29/tempo/internal/summary"
)

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	VoiceMode bool   `json:"voiceMode,omitempty"`
}

// handleChat runs one turn outside the realtime channel. It shares the
// pipeline with websocket turns, so the exchange lands in the same memory.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat not configured")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, apperr.Validation("request body must be a JSON object with sessionId and text"))
		return
	}

	ctx := r.Context()
	if s.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
		defer cancel()
	}
	res, err := s.deps.Chat.Process(ctx, userID(r), strings.TrimSpace(req.SessionID), req.Text, pipeline.Options{VoiceMode: req.VoiceMode})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory not configured")
		return
	}
	sess, err := s.deps.Memory.GetMemory(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory not configured")
		return
	}
	sess, err := s.deps.Memory.ClearMemory(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory not configured")
		return
	}
	values, err := s.deps.Memory.Context(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondAppError(w, err)
		return
	}
	if key := strings.TrimSpace(r.URL.Query().Get("key")); key != "" {
		v, ok := values[key]
		if !ok {
			respondAppError(w, apperr.NotFound("no context value for "+key))
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"key": key, "value": v})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"context": values})
}

type addContextRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (s *Server) handleAddContext(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory not configured")
		return
	}
	var req addContextRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, apperr.Validation("request body must be a JSON object with key and value"))
		return
	}
	sess, err := s.deps.Memory.AddContext(r.Context(), userID(r), chi.URLParam(r, "sessionID"), strings.TrimSpace(req.Key), req.Value)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"context": sess.Context})
}

type cleanupRequest struct {
	// MaxAge is a Go duration string such as "24h"; empty uses SESSION_MAX_AGE.
	MaxAge string `json:"maxAge"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory not configured")
		return
	}
	var req cleanupRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondAppError(w, apperr.Validation("request body must be a JSON object"))
		return
	}
	maxAge := s.cfg.SessionMaxAge
	if raw := strings.TrimSpace(req.MaxAge); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			respondAppError(w, apperr.Validation("maxAge must be a duration such as 24h"))
			return
		}
		maxAge = d
	}
	deleted, err := s.deps.Memory.CleanupOldSessions(r.Context(), userID(r), maxAge)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "maxAge": maxAge.String()})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.Summaries == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "summaries not configured")
		return
	}
	kind, ok := summary.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		respondAppError(w, apperr.Validation("summary type must be daily, tasks, meetings or deals"))
		return
	}
	digest, err := s.deps.Summaries.Summarize(r.Context(), userID(r), kind)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, digest)
}

package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/voice"
)

const maxUploadBytes = 10 << 20

func (s *Server) handleAudioClip(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voice == nil {
		respondAppError(w, apperr.NotFound("audio clip not found"))
		return
	}
	clip, ok := s.deps.Voice.Clips().Get(chi.URLParam(r, "clipID"))
	if !ok {
		respondAppError(w, apperr.NotFound("audio clip not found or expired"))
		return
	}
	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	w.Header().Set("Cache-Control", "private, max-age=600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip.Data)
}

type voiceStatusResponse struct {
	voice.Capability
	Transcription bool `json:"transcription"`
}

func (s *Server) handleVoiceStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Voice == nil {
		respondJSON(w, http.StatusOK, voiceStatusResponse{
			Capability: voice.Capability{Available: false, Provider: "none", Reason: "voice is not configured"},
		})
		return
	}
	capability := s.deps.Voice.Capability()
	respondJSON(w, http.StatusOK, voiceStatusResponse{
		Capability:    capability,
		Transcription: capability.Available,
	})
}

// handleTranscribe accepts the raw audio body. Unconfigured voice answers
// 200 with available:false so clients can fall back to typing.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voice == nil || !s.deps.Voice.Capability().Available {
		reason := "voice is not configured"
		if s.deps.Voice != nil {
			reason = s.deps.Voice.Capability().Reason
		}
		respondJSON(w, http.StatusOK, map[string]any{"available": false, "reason": reason, "text": ""})
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		respondAppError(w, apperr.Validation("could not read the audio body"))
		return
	}
	if len(data) > maxUploadBytes {
		respondAppError(w, apperr.Validation("audio is larger than 10MB"))
		return
	}
	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
	text, err := s.deps.Voice.Transcribe(r.Context(), data, contentType)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"available": true, "text": text})
}

// handleDocuments reports that document search is not part of this service.
func (s *Server) handleDocuments(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"enabled":   false,
		"documents": []any{},
		"reason":    "document search is not enabled",
	})
}

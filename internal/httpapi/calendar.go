package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/calendar"
)

type calendarTokensRequest struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	CalendarID   string    `json:"calendarId,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
}

// handlePutCalendarTokens stores the OAuth tokens the client obtained. The
// OAuth exchange itself happens outside this service.
func (s *Server) handlePutCalendarTokens(w http.ResponseWriter, r *http.Request) {
	if s.deps.CalendarTokens == nil {
		respondAppError(w, apperr.Unconfigured("calendar", "calendar sync is not configured"))
		return
	}
	var req calendarTokensRequest
	if err := decodeJSON(r, &req); err != nil {
		respondAppError(w, apperr.Validation("request body must be a JSON object with accessToken"))
		return
	}
	err := s.deps.CalendarTokens.Put(r.Context(), userID(r), calendar.Tokens{
		AccessToken:  strings.TrimSpace(req.AccessToken),
		RefreshToken: strings.TrimSpace(req.RefreshToken),
		CalendarID:   strings.TrimSpace(req.CalendarID),
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"connected": true})
}

func (s *Server) handleDeleteCalendarTokens(w http.ResponseWriter, r *http.Request) {
	if s.deps.CalendarTokens == nil {
		respondAppError(w, apperr.Unconfigured("calendar", "calendar sync is not configured"))
		return
	}
	if err := s.deps.CalendarTokens.Delete(r.Context(), userID(r)); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"connected": false})
}

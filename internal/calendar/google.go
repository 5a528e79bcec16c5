package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/reliability"
)

const googleService = "calendar service"

// Google talks to the Calendar v3 REST API with a bearer access token.
type Google struct {
	baseURL string
	client  *http.Client
}

func NewGoogle(baseURL string, client *http.Client) *Google {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://www.googleapis.com/calendar/v3"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Google{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (g *Google) Name() string { return "google" }

type googleTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

type googleAttendee struct {
	Email string `json:"email"`
}

type googleEvent struct {
	ID          string           `json:"id,omitempty"`
	Summary     string           `json:"summary,omitempty"`
	Description string           `json:"description,omitempty"`
	Location    string           `json:"location,omitempty"`
	Start       *googleTime      `json:"start,omitempty"`
	End         *googleTime      `json:"end,omitempty"`
	Attendees   []googleAttendee `json:"attendees,omitempty"`
}

func toGoogle(ev Event) googleEvent {
	out := googleEvent{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &googleTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &googleTime{DateTime: ev.End.Format(time.RFC3339)},
	}
	for _, a := range ev.Attendees {
		if a = strings.TrimSpace(a); strings.Contains(a, "@") {
			out.Attendees = append(out.Attendees, googleAttendee{Email: a})
		}
	}
	return out
}

func fromGoogle(ge googleEvent) Event {
	ev := Event{
		ExternalID:  ge.ID,
		Title:       ge.Summary,
		Description: ge.Description,
		Location:    ge.Location,
		Start:       parseGoogleTime(ge.Start),
		End:         parseGoogleTime(ge.End),
	}
	for _, a := range ge.Attendees {
		ev.Attendees = append(ev.Attendees, a.Email)
	}
	return ev
}

func parseGoogleTime(t *googleTime) time.Time {
	if t == nil {
		return time.Time{}
	}
	if t.DateTime != "" {
		if v, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return v
		}
	}
	if t.Date != "" {
		if v, err := time.Parse("2006-01-02", t.Date); err == nil {
			return v
		}
	}
	return time.Time{}
}

func (g *Google) Create(ctx context.Context, tokens Tokens, ev Event) (string, error) {
	var out googleEvent
	if err := g.do(ctx, tokens, http.MethodPost, g.eventsURL(tokens, ""), toGoogle(ev), &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", apperr.External(googleService, false, fmt.Errorf("create event: response has no id"))
	}
	return out.ID, nil
}

func (g *Google) Update(ctx context.Context, tokens Tokens, ev Event) error {
	if strings.TrimSpace(ev.ExternalID) == "" {
		return apperr.Validation("the event is not linked to a calendar entry")
	}
	return g.do(ctx, tokens, http.MethodPatch, g.eventsURL(tokens, ev.ExternalID), toGoogle(ev), nil)
}

// Delete removes the entry. Entries already gone count as deleted.
func (g *Google) Delete(ctx context.Context, tokens Tokens, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return apperr.Validation("the event is not linked to a calendar entry")
	}
	err := g.do(ctx, tokens, http.MethodDelete, g.eventsURL(tokens, externalID), nil, nil)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	return err
}

func (g *Google) List(ctx context.Context, tokens Tokens, from, to time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	if !from.IsZero() {
		q.Set("timeMin", from.Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("timeMax", to.Format(time.RFC3339))
	}

	var out struct {
		Items []googleEvent `json:"items"`
	}
	if err := g.do(ctx, tokens, http.MethodGet, g.eventsURL(tokens, "")+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(out.Items))
	for _, item := range out.Items {
		events = append(events, fromGoogle(item))
	}
	return events, nil
}

func (g *Google) eventsURL(tokens Tokens, id string) string {
	calID := strings.TrimSpace(tokens.CalendarID)
	if calID == "" {
		calID = "primary"
	}
	u := g.baseURL + "/calendars/" + url.PathEscape(calID) + "/events"
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (g *Google) do(ctx context.Context, tokens Tokens, method, target string, body any, out any) error {
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return apperr.Unauthenticated("calendar access token is missing")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal calendar request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create calendar request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.External(googleService, true, fmt.Errorf("send calendar request: %w", err))
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 2<<20))
	if err != nil {
		return apperr.External(googleService, true, fmt.Errorf("read calendar response: %w", err))
	}
	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return apperr.NotFound("the calendar entry no longer exists")
	case res.StatusCode == http.StatusUnauthorized:
		return apperr.Unauthenticated("calendar access was revoked or expired")
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return apperr.External(googleService, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("calendar status %d: %s", res.StatusCode, strings.TrimSpace(string(raw))))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.External(googleService, false, fmt.Errorf("decode calendar response: %w", err))
	}
	return nil
}

// Package calendar mirrors scheduled events to the user's external calendar.
package calendar

import (
	"context"
	"time"

	"github.com/ent0n29/tempo/internal/apperr"
)

// Tokens are the per-user credentials for the external calendar.
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	CalendarID   string    `json:"calendarId,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
}

func (t Tokens) Usable(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt)
}

type Event struct {
	ExternalID  string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

type Provider interface {
	Name() string
	Create(ctx context.Context, tokens Tokens, ev Event) (string, error)
	Update(ctx context.Context, tokens Tokens, ev Event) error
	Delete(ctx context.Context, tokens Tokens, externalID string) error
	List(ctx context.Context, tokens Tokens, from, to time.Time) ([]Event, error)
}

// Disabled is the provider used when no calendar is configured.
type Disabled struct{}

func (Disabled) Name() string { return "none" }

func (Disabled) Create(context.Context, Tokens, Event) (string, error) {
	return "", errDisabled()
}

func (Disabled) Update(context.Context, Tokens, Event) error { return errDisabled() }

func (Disabled) Delete(context.Context, Tokens, string) error { return errDisabled() }

func (Disabled) List(context.Context, Tokens, time.Time, time.Time) ([]Event, error) {
	return nil, errDisabled()
}

func errDisabled() error {
	return apperr.Unconfigured("calendar", "calendar sync is not configured")
}

package calendar

import (
	"context"
	"errors"
	"strings"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/docstore"
)

const (
	integrationsCollection = "integrations"
	calendarDocID          = "calendar"
)

// TokenStore keeps calendar credentials next to the user's other documents.
type TokenStore struct {
	docs docstore.Store
}

func NewTokenStore(docs docstore.Store) *TokenStore {
	return &TokenStore{docs: docs}
}

// Get returns the stored tokens; ok is false when the user never linked a
// calendar.
func (s *TokenStore) Get(ctx context.Context, userID string) (Tokens, bool, error) {
	var t Tokens
	err := s.docs.Get(ctx, docstore.UserCollection(userID, integrationsCollection), calendarDocID, &t)
	if errors.Is(err, docstore.ErrNotFound) {
		return Tokens{}, false, nil
	}
	if err != nil {
		return Tokens{}, false, apperr.Storage("load calendar tokens", err)
	}
	return t, true, nil
}

func (s *TokenStore) Put(ctx context.Context, userID string, t Tokens) error {
	if strings.TrimSpace(t.AccessToken) == "" {
		return apperr.Validation("an access token is required")
	}
	if err := s.docs.Set(ctx, docstore.UserCollection(userID, integrationsCollection), calendarDocID, t); err != nil {
		return apperr.Storage("save calendar tokens", err)
	}
	return nil
}

func (s *TokenStore) Delete(ctx context.Context, userID string) error {
	if err := s.docs.Delete(ctx, docstore.UserCollection(userID, integrationsCollection), calendarDocID); err != nil {
		return apperr.Storage("delete calendar tokens", err)
	}
	return nil
}

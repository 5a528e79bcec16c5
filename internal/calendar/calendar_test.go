package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/docstore"
	"github.com/ent0n29/tempo/internal/records"
)

func TestGoogleCreateAndList(t *testing.T) {
	var (
		mu      sync.Mutex
		created googleEvent
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "/calendars/work/events", r.URL.Path)
			mu.Lock()
			_ = json.NewDecoder(r.Body).Decode(&created)
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "g-1"})
		case http.MethodGet:
			assert.Equal(t, "/calendars/primary/events", r.URL.Path)
			assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
			_, _ = w.Write([]byte(`{"items":[{"id":"g-1","summary":"Design review","start":{"dateTime":"2024-01-12T10:00:00Z"},"end":{"dateTime":"2024-01-12T11:00:00Z"},"attendees":[{"email":"ana@example.com"}]}]}`))
		}
	}))
	defer srv.Close()

	g := NewGoogle(srv.URL, nil)
	start := time.Date(2024, 1, 12, 10, 0, 0, 0, time.UTC)
	id, err := g.Create(context.Background(), Tokens{AccessToken: "tok", CalendarID: "work"}, Event{
		Title:     "Design review",
		Start:     start,
		End:       start.Add(time.Hour),
		Attendees: []string{"ana@example.com", "Bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, "g-1", id)

	mu.Lock()
	assert.Equal(t, "Design review", created.Summary)
	assert.Equal(t, "2024-01-12T10:00:00Z", created.Start.DateTime)
	assert.Equal(t, []googleAttendee{{Email: "ana@example.com"}}, created.Attendees)
	mu.Unlock()

	events, err := g.List(context.Background(), Tokens{AccessToken: "tok"}, start.Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "g-1", events[0].ExternalID)
	assert.Equal(t, start, events[0].Start)
	assert.Equal(t, []string{"ana@example.com"}, events[0].Attendees)
}

func TestGoogleErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNotFound)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()
	g := NewGoogle(srv.URL, nil)
	tok := Tokens{AccessToken: "tok"}

	require.NoError(t, g.Delete(context.Background(), tok, "gone"))

	status.Store(http.StatusServiceUnavailable)
	err := g.Update(context.Background(), tok, Event{ExternalID: "x"})
	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, apperr.KindExternalService, e.Kind)
	assert.True(t, e.Retryable)

	_, err = g.Create(context.Background(), Tokens{}, Event{})
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
}

func TestDisabledProvider(t *testing.T) {
	_, err := Disabled{}.Create(context.Background(), Tokens{}, Event{})
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
	assert.False(t, NewMirror(nil, nil, nil, nil, nil).Enabled())
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   []string
	failing bool
}

func (f *fakeProvider) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.failing {
		return errors.New("calendar down")
	}
	return nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Create(_ context.Context, _ Tokens, ev Event) (string, error) {
	if err := f.record("create:" + ev.Title); err != nil {
		return "", err
	}
	return "ext-" + ev.Title, nil
}

func (f *fakeProvider) Update(_ context.Context, _ Tokens, ev Event) error {
	return f.record("update:" + ev.ExternalID)
}

func (f *fakeProvider) Delete(_ context.Context, _ Tokens, id string) error {
	return f.record("delete:" + id)
}

func (f *fakeProvider) List(context.Context, Tokens, time.Time, time.Time) ([]Event, error) {
	return nil, f.record("list")
}

func TestMirrorLinksAndFollowsEvent(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	repo := records.NewRepository(docs, records.Identity{Name: "Tempo"})
	tokens := NewTokenStore(docs)
	provider := &fakeProvider{}
	m := NewMirror(provider, tokens, repo, nil, nil)

	ev, err := repo.CreateEvent(ctx, "u1", records.Event{Title: "Sync", Start: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	m.Created(ctx, "u1", ev)
	assert.Empty(t, provider.calls, "no tokens stored yet")

	require.NoError(t, tokens.Put(ctx, "u1", Tokens{AccessToken: "tok"}))
	m.Created(ctx, "u1", ev)

	linked, err := repo.GetEvent(ctx, "u1", ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "ext-Sync", linked.ExternalID)

	m.Updated(ctx, "u1", linked)
	m.Cancelled(ctx, "u1", linked)
	assert.Equal(t, []string{"create:Sync", "update:ext-Sync", "delete:ext-Sync"}, provider.calls)
}

func TestMirrorSwallowsFailures(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	tokens := NewTokenStore(docs)
	require.NoError(t, tokens.Put(ctx, "u1", Tokens{AccessToken: "tok"}))
	provider := &fakeProvider{failing: true}
	m := NewMirror(provider, tokens, nil, nil, nil)

	m.Created(ctx, "u1", records.Event{ID: "e1", Title: "Sync"})
	m.Cancelled(ctx, "u1", records.Event{ID: "e2"})
	assert.Equal(t, []string{"create:Sync"}, provider.calls)
}

func TestTokenStore(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(docstore.NewMemoryStore())

	_, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, apperr.Is(s.Put(ctx, "u1", Tokens{}), apperr.KindValidation))

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, "u1", Tokens{AccessToken: "a", ExpiresAt: exp}))
	got, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Usable(time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, got.Usable(exp))

	require.NoError(t, s.Delete(ctx, "u1"))
	_, ok, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

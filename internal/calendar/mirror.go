package calendar

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/tempo/internal/observability"
	"github.com/ent0n29/tempo/internal/records"
)

const mirrorTimeout = 5 * time.Second

// Linker stores the external id on a local event after it was mirrored.
type Linker interface {
	UpdateEvent(ctx context.Context, userID, id string, patch records.EventPatch) (records.Event, error)
}

// Mirror copies event mutations to the user's calendar. Every method is best
// effort: failures are logged and counted, never returned.
type Mirror struct {
	provider Provider
	tokens   *TokenStore
	linker   Linker
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewMirror(provider Provider, tokens *TokenStore, linker Linker, metrics *observability.Metrics, logger *zap.Logger) *Mirror {
	if provider == nil {
		provider = Disabled{}
	}
	return &Mirror{
		provider: provider,
		tokens:   tokens,
		linker:   linker,
		metrics:  metrics,
		logger:   observability.OrNop(logger),
		now:      time.Now,
	}
}

// Enabled reports whether a real provider is configured.
func (m *Mirror) Enabled() bool {
	if m == nil {
		return false
	}
	_, disabled := m.provider.(Disabled)
	return !disabled
}

func (m *Mirror) Created(ctx context.Context, userID string, ev records.Event) {
	m.run(ctx, userID, "create", ev.ID, func(ctx context.Context, tokens Tokens) error {
		externalID, err := m.provider.Create(ctx, tokens, fromRecord(ev))
		if err != nil {
			return err
		}
		if m.linker == nil {
			return nil
		}
		_, err = m.linker.UpdateEvent(ctx, userID, ev.ID, records.EventPatch{ExternalID: &externalID})
		return err
	})
}

func (m *Mirror) Updated(ctx context.Context, userID string, ev records.Event) {
	if ev.ExternalID == "" {
		m.Created(ctx, userID, ev)
		return
	}
	m.run(ctx, userID, "update", ev.ID, func(ctx context.Context, tokens Tokens) error {
		return m.provider.Update(ctx, tokens, fromRecord(ev))
	})
}

func (m *Mirror) Cancelled(ctx context.Context, userID string, ev records.Event) {
	if ev.ExternalID == "" {
		return
	}
	m.run(ctx, userID, "delete", ev.ID, func(ctx context.Context, tokens Tokens) error {
		return m.provider.Delete(ctx, tokens, ev.ExternalID)
	})
}

func (m *Mirror) run(ctx context.Context, userID, op, eventID string, fn func(context.Context, Tokens) error) {
	if !m.Enabled() || m.tokens == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	tokens, ok, err := m.tokens.Get(ctx, userID)
	if err != nil {
		m.logger.Warn("calendar token lookup failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if !ok || !tokens.Usable(m.now()) {
		return
	}
	if err := fn(ctx, tokens); err != nil {
		m.metrics.ObserveProviderError(m.provider.Name(), op)
		m.logger.Warn("calendar mirror failed",
			zap.String("user_id", userID),
			zap.String("event_id", eventID),
			zap.String("op", op),
			zap.Error(err),
		)
		return
	}
	m.logger.Debug("calendar mirrored", zap.String("event_id", eventID), zap.String("op", op))
}

func fromRecord(ev records.Event) Event {
	return Event{
		ExternalID:  ev.ExternalID,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       ev.Start,
		End:         ev.End,
		Attendees:   append([]string(nil), ev.Attendees...),
	}
}

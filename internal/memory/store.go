package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/docstore"
	"github.com/ent0n29/tempo/internal/observability"
	"github.com/ent0n29/tempo/internal/policy"
)

const sessionsCollection = "sessions"

// DefaultRecentLimit bounds RecentMessages when Options.RecentLimit is unset.
const DefaultRecentLimit = 20

// Counter recomputes the cached counts from the records collaborator.
type Counter interface {
	CountPending(ctx context.Context, userID string) (int, error)
	CountUpcoming(ctx context.Context, userID string) (int, error)
}

type Options struct {
	Cache       *Cache
	RecentLimit int
	RedactPII   bool
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

// Store is the session memory service. Read-modify-write operations on the
// same session are serialized; different sessions proceed in parallel.
type Store struct {
	docs        docstore.Store
	counter     Counter
	cache       *Cache
	recentLimit int
	redact      bool
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time

	locks keyedMutex

	knownMu sync.Mutex
	known   map[string]struct{}
}

func NewStore(docs docstore.Store, counter Counter, opts Options) *Store {
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = DefaultRecentLimit
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		docs:        docs,
		counter:     counter,
		cache:       opts.Cache,
		recentLimit: opts.RecentLimit,
		redact:      opts.RedactPII,
		metrics:     opts.Metrics,
		logger:      observability.OrNop(opts.Logger),
		now:         opts.Now,
		known:       make(map[string]struct{}),
	}
}

// GetMemory returns the session, creating and persisting an empty one on
// first access. The cache is populated before returning.
func (s *Store) GetMemory(ctx context.Context, userID, sessionID string) (Session, error) {
	if err := validateKey(userID, sessionID); err != nil {
		return Session{}, err
	}
	unlock := s.locks.lock(userID, sessionID)
	defer unlock()
	return s.load(ctx, userID, sessionID)
}

// UpdateMemory merges patch into the persisted record and stamps
// LastUpdated. On a failed write the cache keeps its previous entry.
func (s *Store) UpdateMemory(ctx context.Context, userID, sessionID string, patch Patch) (Session, error) {
	if err := validateKey(userID, sessionID); err != nil {
		return Session{}, err
	}
	unlock := s.locks.lock(userID, sessionID)
	defer unlock()
	return s.update(ctx, userID, sessionID, func(*Session) (Patch, error) { return patch, nil })
}

// ClearMemory empties RecentMessages and Context. Counts are kept.
func (s *Store) ClearMemory(ctx context.Context, userID, sessionID string) (Session, error) {
	empty := []Message{}
	return s.UpdateMemory(ctx, userID, sessionID, Patch{RecentMessages: &empty, Context: map[string]any{}})
}

func (s *Store) AddContext(ctx context.Context, userID, sessionID, key string, value any) (Session, error) {
	if strings.TrimSpace(key) == "" {
		return Session{}, apperr.Validation("a context key is required")
	}
	if err := validateKey(userID, sessionID); err != nil {
		return Session{}, err
	}
	unlock := s.locks.lock(userID, sessionID)
	defer unlock()
	return s.update(ctx, userID, sessionID, func(cur *Session) (Patch, error) {
		next := cloneMap(cur.Context)
		next[key] = value
		return Patch{Context: next}, nil
	})
}

// GetContext returns one context value.
func (s *Store) GetContext(ctx context.Context, userID, sessionID, key string) (any, bool, error) {
	sess, err := s.GetMemory(ctx, userID, sessionID)
	if err != nil {
		return nil, false, err
	}
	v, ok := sess.Context[key]
	return v, ok, nil
}

// Context returns the whole context map.
func (s *Store) Context(ctx context.Context, userID, sessionID string) (map[string]any, error) {
	sess, err := s.GetMemory(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Context, nil
}

// AppendExchange appends messages and trims the oldest beyond the recent
// limit. Missing IDs and timestamps are filled in.
func (s *Store) AppendExchange(ctx context.Context, userID, sessionID string, msgs ...Message) (Session, error) {
	if err := validateKey(userID, sessionID); err != nil {
		return Session{}, err
	}
	unlock := s.locks.lock(userID, sessionID)
	defer unlock()
	return s.update(ctx, userID, sessionID, func(cur *Session) (Patch, error) {
		next := append(make([]Message, 0, len(cur.RecentMessages)+len(msgs)), cur.RecentMessages...)
		for _, m := range msgs {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			if m.Timestamp.IsZero() {
				m.Timestamp = s.now()
			}
			if s.redact && m.Role == RoleUser {
				m.Content, _ = policy.RedactPII(m.Content)
			}
			next = append(next, m)
		}
		if over := len(next) - s.recentLimit; over > 0 {
			next = next[over:]
		}
		return Patch{RecentMessages: &next}, nil
	})
}

// UpdateCounts recomputes PendingTasks and UpcomingMeetings.
func (s *Store) UpdateCounts(ctx context.Context, userID, sessionID string) (Session, error) {
	if s.counter == nil {
		return s.GetMemory(ctx, userID, sessionID)
	}
	pending, err := s.counter.CountPending(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	upcoming, err := s.counter.CountUpcoming(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.UpdateMemory(ctx, userID, sessionID, Patch{PendingTasks: &pending, UpcomingMeetings: &upcoming})
}

// CleanupOldSessions deletes every session of userID idle for longer than
// maxAge in one atomic batch and evicts them from the cache.
func (s *Store) CleanupOldSessions(ctx context.Context, userID string, maxAge time.Duration) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, apperr.Unauthenticated("a user id is required")
	}
	if maxAge <= 0 {
		return 0, apperr.Validation("max age must be positive")
	}
	cutoff := s.now().Add(-maxAge)
	collection := docstore.UserCollection(userID, sessionsCollection)
	query := docstore.Query{
		Filters: []docstore.Filter{docstore.Where("lastUpdated", docstore.OpLt, cutoff)},
		Limit:   docstore.MaxListLimit,
	}

	candidates, err := s.docs.List(ctx, collection, query)
	if err != nil {
		return 0, apperr.Storage("list stale sessions", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	// Session locks are taken in ID order and held until the cache is
	// evicted, so no in-flight write can put back a deleted session.
	ids := make([]string, 0, len(candidates))
	for _, d := range candidates {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	locked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		unlock := s.locks.lock(userID, id)
		defer unlock()
		locked[id] = struct{}{}
	}

	current, err := s.docs.List(ctx, collection, query)
	if err != nil {
		return 0, apperr.Storage("list stale sessions", err)
	}
	stale := make([]string, 0, len(current))
	for _, d := range current {
		if _, ok := locked[d.ID]; ok {
			stale = append(stale, d.ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	muts := make([]docstore.Mutation, 0, len(stale))
	for _, id := range stale {
		muts = append(muts, docstore.DeleteDoc(collection, id))
	}
	if err := s.docs.Batch(ctx, muts); err != nil {
		return 0, apperr.Storage("delete stale sessions", err)
	}
	for _, id := range stale {
		s.cache.Evict(userID, id)
	}

	s.logger.Info("cleaned up stale sessions",
		zap.String("user_id", userID),
		zap.Int("deleted", len(stale)),
		zap.Time("cutoff", cutoff),
	)
	return len(stale), nil
}

// KnownUsers lists the users whose sessions were touched since start.
func (s *Store) KnownUsers() []string {
	s.knownMu.Lock()
	defer s.knownMu.Unlock()
	out := make([]string, 0, len(s.known))
	for u := range s.known {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (s *Store) load(ctx context.Context, userID, sessionID string) (Session, error) {
	if sess, ok := s.cache.Get(userID, sessionID); ok {
		s.metrics.ObserveCacheLookup(true)
		return sess, nil
	}
	if s.cache != nil {
		s.metrics.ObserveCacheLookup(false)
	}

	var sess Session
	err := s.docs.Get(ctx, docstore.UserCollection(userID, sessionsCollection), sessionID, &sess)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		now := s.now()
		sess = Session{
			SessionID:      sessionID,
			UserID:         userID,
			RecentMessages: []Message{},
			Context:        map[string]any{},
			LastUpdated:    now,
			CreatedAt:      now,
		}
		if err := s.docs.Set(ctx, docstore.UserCollection(userID, sessionsCollection), sessionID, sess); err != nil {
			return Session{}, apperr.Storage("create session", err)
		}
	case err != nil:
		return Session{}, apperr.Storage("load session", err)
	}
	if sess.RecentMessages == nil {
		sess.RecentMessages = []Message{}
	}
	if sess.Context == nil {
		sess.Context = map[string]any{}
	}

	s.remember(userID)
	s.cache.Put(sess)
	return sess.Clone(), nil
}

// update runs under the session lock. build derives the patch from the
// current record. A record deleted underneath a cached copy is recreated
// once and the patch is rebuilt against it.
func (s *Store) update(ctx context.Context, userID, sessionID string, build func(*Session) (Patch, error)) (Session, error) {
	for attempt := 0; ; attempt++ {
		cur, err := s.load(ctx, userID, sessionID)
		if err != nil {
			return Session{}, err
		}
		patch, err := build(&cur)
		if err != nil {
			return Session{}, err
		}

		next := cur.Clone()
		fields := patch.apply(&next)
		next.LastUpdated = s.now()
		fields["lastUpdated"] = next.LastUpdated

		err = s.docs.Update(ctx, docstore.UserCollection(userID, sessionsCollection), sessionID, fields)
		if errors.Is(err, docstore.ErrNotFound) && attempt == 0 {
			s.cache.Evict(userID, sessionID)
			continue
		}
		if err != nil {
			return Session{}, apperr.Storage("update session", err)
		}
		s.cache.Put(next)
		return next.Clone(), nil
	}
}

func (s *Store) remember(userID string) {
	s.knownMu.Lock()
	s.known[userID] = struct{}{}
	s.knownMu.Unlock()
}

func validateKey(userID, sessionID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.Unauthenticated("a user id is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return apperr.Validation("a session id is required")
	}
	return nil
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[cacheKey]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(userID, sessionID string) func() {
	key := cacheKey{userID, sessionID}

	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[cacheKey]*refLock)
	}
	l := k.locks[key]
	if l == nil {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

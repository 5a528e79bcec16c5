package memory

import "sync"

type cacheKey struct {
	userID    string
	sessionID string
}

// Cache holds the most recent copy of each session written through a Store.
// It only saves reads; a nil *Cache is valid and caches nothing.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]Session
}

func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]Session)}
}

func (c *Cache) Get(userID, sessionID string) (Session, bool) {
	if c == nil {
		return Session{}, false
	}
	c.mu.RLock()
	s, ok := c.entries[cacheKey{userID, sessionID}]
	c.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	return s.Clone(), true
}

func (c *Cache) Put(s Session) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[cacheKey{s.UserID, s.SessionID}] = s.Clone()
	c.mu.Unlock()
}

func (c *Cache) Evict(userID, sessionID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, cacheKey{userID, sessionID})
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every entry. Called at shutdown.
func (c *Cache) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[cacheKey]Session)
	c.mu.Unlock()
}

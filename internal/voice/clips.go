package voice

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type storedClip struct {
	audio   Audio
	expires time.Time
}

// ClipStore keeps synthesized audio in memory until it expires so clients can
// fetch it by URL.
type ClipStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	clips map[string]storedClip
	now   func() time.Time
}

func NewClipStore(ttl time.Duration) *ClipStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ClipStore{ttl: ttl, clips: make(map[string]storedClip), now: time.Now}
}

// Put stores a clip and returns its id. Expired clips are swept on the way.
func (s *ClipStore) Put(a Audio) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	s.clips[id] = storedClip{audio: a, expires: now.Add(s.ttl)}
	return id
}

func (s *ClipStore) Get(id string) (Audio, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clips[id]
	if !ok {
		return Audio{}, false
	}
	if !s.now().Before(c.expires) {
		delete(s.clips, id)
		return Audio{}, false
	}
	return c.audio, true
}

func (s *ClipStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clips)
}

func (s *ClipStore) sweepLocked(now time.Time) {
	for id, c := range s.clips {
		if !now.Before(c.expires) {
			delete(s.clips, id)
		}
	}
}

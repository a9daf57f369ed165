package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/tavern-chat/internal/model/chat"
)

// MemoryStore keeps transcripts in process memory. The map lock is only held
// for lookups; transcript mutation happens under each session's own mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	revoked  map[string]time.Time

	ttl time.Duration
	now func() time.Time

	evictRunning atomic.Bool
}

type memorySession struct {
	mu         sync.Mutex
	turns      chat.Transcript
	lastAccess time.Time
	dead       atomic.Bool
}

// NewMemoryStore bootstraps an in-memory store whose sessions expire after ttl
// without access.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		revoked:  make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns a copy of the transcript, or an empty one.
func (s *MemoryStore) Get(_ context.Context, id string) chat.Transcript {
	s.mu.RLock()
	entry := s.sessions[id]
	s.mu.RUnlock()
	if entry == nil {
		return chat.Transcript{}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.dead.Load() {
		return chat.Transcript{}
	}
	now := s.now()
	if s.expired(entry, now) {
		entry.turns = nil
	}
	entry.lastAccess = now
	return entry.turns.Clone()
}

// Append adds turn to the transcript for id, creating the session on first use.
func (s *MemoryStore) Append(_ context.Context, id string, turn chat.Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	stored := chat.Transcript{turn}.Clone()[0]

	for {
		entry, err := s.entryForWrite(id)
		if err != nil {
			return err
		}

		entry.mu.Lock()
		if entry.dead.Load() {
			// Evicted or cleared between lookup and lock; look it up again.
			entry.mu.Unlock()
			continue
		}
		now := s.now()
		if s.expired(entry, now) {
			entry.turns = nil
		}
		entry.turns = append(entry.turns, stored)
		entry.lastAccess = now
		entry.mu.Unlock()
		return nil
	}
}

// Clear revokes id and returns a new session identifier.
func (s *MemoryStore) Clear(_ context.Context, id string) (string, error) {
	if id != "" {
		s.mu.Lock()
		s.revoked[id] = s.now()
		entry := s.sessions[id]
		delete(s.sessions, id)
		s.mu.Unlock()

		if entry != nil {
			entry.mu.Lock()
			entry.dead.Store(true)
			entry.turns = nil
			entry.mu.Unlock()
		}
	}
	return uuid.NewString(), nil
}

// Revoked reports whether id was cleared within the tombstone window.
func (s *MemoryStore) Revoked(_ context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[id]
	return ok
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) entryForWrite(id string) (*memorySession, error) {
	s.mu.RLock()
	entry := s.sessions[id]
	_, revoked := s.revoked[id]
	s.mu.RUnlock()
	if revoked {
		return nil, ErrSessionRevoked
	}
	if entry != nil && !entry.dead.Load() {
		return entry, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, revoked := s.revoked[id]; revoked {
		return nil, ErrSessionRevoked
	}
	entry = s.sessions[id]
	if entry == nil || entry.dead.Load() {
		entry = &memorySession{lastAccess: s.now()}
		s.sessions[id] = entry
	}
	return entry, nil
}

func (s *MemoryStore) expired(entry *memorySession, now time.Time) bool {
	return s.ttl > 0 && !entry.lastAccess.IsZero() && now.Sub(entry.lastAccess) >= s.ttl
}

// StartEvictionLoop drops expired sessions and stale revocations every interval
// until ctx is done. Calling it twice is a no-op.
func (s *MemoryStore) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	if !s.evictRunning.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.evictRunning.Store(false)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictOnce(s.now())
			}
		}
	}()
}

// evictOnce removes expired sessions and revocations older than the ttl.
func (s *MemoryStore) evictOnce(now time.Time) int {
	s.mu.RLock()
	candidates := make(map[string]*memorySession, len(s.sessions))
	for id, entry := range s.sessions {
		candidates[id] = entry
	}
	s.mu.RUnlock()

	evicted := 0
	for id, entry := range candidates {
		entry.mu.Lock()
		expired := s.expired(entry, now)
		if expired {
			entry.dead.Store(true)
			entry.turns = nil
		}
		entry.mu.Unlock()
		if !expired {
			continue
		}

		s.mu.Lock()
		if current, ok := s.sessions[id]; ok && current == entry {
			delete(s.sessions, id)
			evicted++
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	for id, at := range s.revoked {
		if now.Sub(at) >= s.ttl {
			delete(s.revoked, id)
		}
	}
	s.mu.Unlock()

	return evicted
}

package service

import (
	"context"
	"sync"
	"time"

	"eventdelivery/internal/entity"

	"github.com/google/uuid"
)

// DedupEntry records one delivered notification inside the dedup window.
type DedupEntry struct {
	NotificationID uuid.UUID        `json:"notification_id"`
	Channels       []entity.Channel `json:"channels"`
	CreatedAt      time.Time        `json:"created_at"`
}

// DeduplicationStore is the suppression window behind sendNotification.
// The in-memory implementation suits a single instance; the Redis-backed
// one in the repository package is the swap-in for horizontal scaling.
type DeduplicationStore interface {
	// Lookup returns the unexpired entry for hash, or nil when absent.
	Lookup(ctx context.Context, hash string) (*DedupEntry, error)
	Remember(ctx context.Context, hash string, entry DedupEntry) error
}

// MemoryDedupStore is a process-local TTL map with opportunistic sweeping.
type MemoryDedupStore struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]DedupEntry
	now     func() time.Time
}

func NewMemoryDedupStore(window time.Duration) *MemoryDedupStore {
	return &MemoryDedupStore{
		window:  window,
		entries: make(map[string]DedupEntry),
		now:     time.Now,
	}
}

func (s *MemoryDedupStore) Lookup(_ context.Context, hash string) (*DedupEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	entry, ok := s.entries[hash]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryDedupStore) Remember(_ context.Context, hash string, entry DedupEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.entries[hash] = entry
	return nil
}

// sweepLocked drops expired entries; called under the lock on every lookup
// so the map cannot grow past one window of traffic.
func (s *MemoryDedupStore) sweepLocked() {
	cutoff := s.now().Add(-s.window)
	for hash, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(s.entries, hash)
		}
	}
}

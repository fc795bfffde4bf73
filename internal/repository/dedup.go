package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventdelivery/internal/service"

	"github.com/wb-go/wbf/redis"
)

const _dedupKeyPrefix = "dedup:"

// RedisDedupStore is the shared-store deduplication window for multi-
// instance deployments; expiry is delegated to key TTLs.
type RedisDedupStore struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRedisDedupStore(rdb *redis.Client, window time.Duration) *RedisDedupStore {
	return &RedisDedupStore{rdb: rdb, window: window}
}

func (s *RedisDedupStore) Lookup(ctx context.Context, hash string) (*service.DedupEntry, error) {
	const op = "repository.RedisDedupStore.Lookup"

	cached, err := s.rdb.Get(ctx, _dedupKeyPrefix+hash)
	if err != nil || cached == "" {
		return nil, nil
	}

	var entry service.DedupEntry
	if unmarshErr := json.Unmarshal([]byte(cached), &entry); unmarshErr != nil {
		return nil, fmt.Errorf("%s: unmarshal json: %w", op, unmarshErr)
	}
	return &entry, nil
}

func (s *RedisDedupStore) Remember(ctx context.Context, hash string, entry service.DedupEntry) error {
	const op = "repository.RedisDedupStore.Remember"

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%s: marshal json: %w", op, err)
	}
	if setErr := s.rdb.SetWithExpiration(ctx, _dedupKeyPrefix+hash, data, s.window); setErr != nil {
		return fmt.Errorf("%s: %w", op, setErr)
	}
	return nil
}

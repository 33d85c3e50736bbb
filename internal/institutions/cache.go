// cache.go defines the result cache behind the institution proxy. Two
// implementations exist: an in-process store for single-node deployments and a
// Redis store for sharing the cache across replicas.
package institutions

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore holds cached search results keyed by "country:query"
type CacheStore interface {
	// Get returns the cached results for key, and whether the key was present
	Get(ctx context.Context, key string) ([]Institution, bool, error)
	// Set stores results under key for the given TTL
	Set(ctx context.Context, key string, results []Institution, ttl time.Duration) error
}

// MemoryStore is an in-process CacheStore with per-entry expiry
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	results   []Institution
	expiresAt time.Time
}

// NewMemoryStore creates a new in-process cache store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached results for key if present and unexpired
func (m *MemoryStore) Get(_ context.Context, key string) ([]Institution, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if m.now().After(entry.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; another Set may have refreshed it
		if cur, ok := m.entries[key]; ok && m.now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.results, true, nil
}

// Set stores results under key for the given TTL
func (m *MemoryStore) Set(_ context.Context, key string, results []Institution, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{
		results:   results,
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

// RedisStore backs the cache with Redis so all replicas share hits
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed cache store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "institutions:"}
}

// Get returns the cached results for key if present
func (r *RedisStore) Get(ctx context.Context, key string) ([]Institution, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var results []Institution
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false, err
	}
	return results, true, nil
}

// Set stores results under key for the given TTL
func (r *RedisStore) Set(ctx context.Context, key string, results []Institution, ttl time.Duration) error {
	data, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key, data, ttl).Err()
}

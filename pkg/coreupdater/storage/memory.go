package storage

import (
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend keeps entries in process memory. It suits one-shot CLI runs
// where nothing needs to survive the process, and tests.
type MemoryBackend struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{
		cache: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

// Get returns the value for key or ErrNotFound.
func (m *MemoryBackend) Get(bucket, key string) ([]byte, error) {
	v, ok := m.cache.Get(string(compositeKey(bucket, key)))
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(v.([]byte)), nil
}

// Set stores value under key.
func (m *MemoryBackend) Set(bucket, key string, value []byte, ttl time.Duration) error {
	m.cache.Set(string(compositeKey(bucket, key)), cloneBytes(value), expiration(ttl))
	return nil
}

// Update applies fn under the backend lock.
func (m *MemoryBackend) Update(bucket, key string, ttl time.Duration, fn func([]byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(compositeKey(bucket, key))
	var current []byte
	if v, ok := m.cache.Get(k); ok {
		current = cloneBytes(v.([]byte))
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	m.cache.Set(k, cloneBytes(next), expiration(ttl))
	return nil
}

// Delete removes key.
func (m *MemoryBackend) Delete(bucket, key string) error {
	m.cache.Delete(string(compositeKey(bucket, key)))
	return nil
}

// Keys lists unexpired keys of a bucket.
func (m *MemoryBackend) Keys(bucket string) ([]string, error) {
	prefix := string(bucketPrefix(bucket))
	var keys []string
	for k := range m.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	return keys, nil
}

// Clear removes all entries of a bucket.
func (m *MemoryBackend) Clear(bucket string) error {
	prefix := string(bucketPrefix(bucket))
	for k := range m.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			m.cache.Delete(k)
		}
	}
	return nil
}

// Close drops all entries.
func (m *MemoryBackend) Close() error {
	m.cache.Flush()
	return nil
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ Backend = (*MemoryBackend)(nil)

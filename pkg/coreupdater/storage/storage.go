// Package storage provides expiring key/value persistence shared by the
// step processor and the API client caches. Values live in named buckets so
// that one backend can hold process state, remote manifests and version
// lists side by side.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key doesn't exist or has expired.
var ErrNotFound = errors.New("storage entry not found")

// Backend is the raw byte store. Implementations must make Update atomic
// with respect to other calls on the same backend.
type Backend interface {
	Get(bucket, key string) ([]byte, error)
	Set(bucket, key string, value []byte, ttl time.Duration) error
	// Update reads the current value (nil when absent), passes it to fn and
	// stores the result in one step. Returning an error from fn aborts
	// without writing.
	Update(bucket, key string, ttl time.Duration, fn func(current []byte) ([]byte, error)) error
	Delete(bucket, key string) error
	Keys(bucket string) ([]string, error)
	Clear(bucket string) error
	Close() error
}

// Bucket is a typed view over one bucket of a backend with a fixed TTL.
type Bucket struct {
	backend Backend
	name    string
	ttl     time.Duration
}

// NewBucket returns a bucket view. A zero ttl means entries never expire.
func NewBucket(backend Backend, name string, ttl time.Duration) *Bucket {
	return &Bucket{backend: backend, name: name, ttl: ttl}
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// Load decodes the JSON value stored under key into out.
func (b *Bucket) Load(key string, out any) error {
	data, err := b.backend.Get(b.name, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s/%s: %w", b.name, key, err)
	}
	return nil
}

// Save stores v under key using the bucket TTL.
func (b *Bucket) Save(key string, v any) error {
	return b.SaveTTL(key, v, b.ttl)
}

// SaveTTL stores v under key with an explicit TTL.
func (b *Bucket) SaveTTL(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", b.name, key, err)
	}
	return b.backend.Set(b.name, key, data, ttl)
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Bucket) Delete(key string) error {
	return b.backend.Delete(b.name, key)
}

// Keys lists live keys in the bucket.
func (b *Bucket) Keys() ([]string, error) {
	return b.backend.Keys(b.name)
}

// Clear removes every key in the bucket.
func (b *Bucket) Clear() error {
	return b.backend.Clear(b.name)
}

// Update performs a typed read-modify-write of the value under key. The
// callback receives the decoded value and whether it existed; the value it
// leaves in *T is written back with the bucket TTL.
func Update[T any](b *Bucket, key string, fn func(v *T, exists bool) error) error {
	return b.backend.Update(b.name, key, b.ttl, func(current []byte) ([]byte, error) {
		var v T
		exists := current != nil
		if exists {
			if err := json.Unmarshal(current, &v); err != nil {
				return nil, fmt.Errorf("decoding %s/%s: %w", b.name, key, err)
			}
		}
		if err := fn(&v, exists); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
}

func compositeKey(bucket, key string) []byte {
	return []byte(bucket + "\x00" + key)
}

func bucketPrefix(bucket string) []byte {
	return []byte(bucket + "\x00")
}

// Package store provides the durable key-value state used to persist small
// structured values (such as the schema cache index) across restarts.
//
// Values are JSON-serialised. Three backends are available:
//
//   - RedisStore: shared Redis instance (one key per value)
//   - FileStore: a single JSON document on local disk
//   - MemoryStore: process-local, for tests and ephemeral sessions
package store

import (
	"context"
	"errors"
)

// ErrNilValue is returned when Update is called with a nil value.
var ErrNilValue = errors.New("store value cannot be nil")

// Store persists JSON-serialisable values under string keys.
type Store interface {
	// Get decodes the value stored under key into dst.
	// It returns false (and leaves dst untouched) when the key does not exist.
	Get(ctx context.Context, key string, dst any) (bool, error)

	// Update replaces the value stored under key.
	Update(ctx context.Context, key string, value any) error
}

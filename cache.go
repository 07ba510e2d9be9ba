// Package filecache defines the cache-access contract implemented by the
// filesystem store, along with key validation, key-to-path derivation and
// time-to-live handling shared by its implementations.
package filecache

import (
	"context"
	"errors"
)

var (
	// ErrWriteFailed wraps any filesystem failure while persisting an entry.
	ErrWriteFailed = errors.New("cache write failed")

	// ErrNotInteger is returned when a counter operation targets an entry
	// holding a non-integer value.
	ErrNotInteger = errors.New("cache value is not an integer")

	// ErrCounterOverflow is returned when a counter update would overflow int64.
	ErrCounterOverflow = errors.New("cache counter overflow")
)

// Cache is the generic cache-access contract.
//
// Misses are not errors: Get returns the caller's default for absent,
// expired or undecodable entries. Invalid keys and TTLs are reported as
// *ValidationError from every method that accepts them.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value stored for key, or def on a miss.
	Get(ctx context.Context, key string, def any) (any, error)

	// Set stores value for key, replacing any existing entry.
	Set(ctx context.Context, key string, value any, ttl TTL) error

	// Delete removes the entry for key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// GetMultiple returns a value for each key, using def for misses.
	GetMultiple(ctx context.Context, keys []string, def any) (map[string]any, error)

	// SetMultiple stores every key/value pair with the same TTL.
	SetMultiple(ctx context.Context, values map[string]any, ttl TTL) error

	// DeleteMultiple removes the entries for every key.
	DeleteMultiple(ctx context.Context, keys []string) error

	// Has reports whether a live entry exists for key.
	Has(ctx context.Context, key string) (bool, error)

	// Increment atomically adds step to the integer stored for key,
	// treating a missing entry as zero, and returns the new value.
	Increment(ctx context.Context, key string, step int64) (int64, error)

	// Decrement atomically subtracts step from the integer stored for key.
	Decrement(ctx context.Context, key string, step int64) (int64, error)

	// CleanExpired removes every expired entry and returns how many were removed.
	CleanExpired(ctx context.Context) (int, error)
}

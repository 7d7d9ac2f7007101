package lock

import (
	"context"
	"time"
)

// Store is a process-shared key-value store with conditional writes.
type Store interface {
	// SetIfAbsent stores value under key with the given expiry only when key
	// is not already present. It reports whether the write happened.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// DeleteIfValue removes key only when it still holds value.
	// Deleting a missing or foreign key is not an error.
	DeleteIfValue(ctx context.Context, key, value string) error
}

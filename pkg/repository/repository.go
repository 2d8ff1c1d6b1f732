package repository

import (
	"context"
)

// KeyValue is a durable string key-value store for client-local state such
// as the session identifier.
type KeyValue interface {
	// Get returns the stored value. found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Package store defines the durable key-value storage boundary shared by the
// cache families and the offline action queue. Implementations persist opaque
// byte blobs under string keys; all envelope and expiry logic lives above
// this interface.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the durable key-value store consumed by the cache and the queue.
// Keys are namespaced by the caller; the store treats them as opaque.
type Store interface {
	// Read returns the blob stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores the blob under key, replacing any prior value.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes the blob under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes a batch of keys in one operation.
	DeleteMany(ctx context.Context, keys []string) error

	// ListKeys returns all stored keys. Used for inspection and size
	// accounting, not by the cache or queue logic itself.
	ListKeys(ctx context.Context) ([]string, error)
}

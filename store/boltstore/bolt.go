// Package boltstore implements the durable key-value store on top of bbolt.
// A single bucket holds every record; cache families and the offline queue
// are distinguished only by key prefix.
package boltstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/gigview/offline-cache/store"
)

var bucketRecords = []byte("records")

// BoltStore implements store.Store using bbolt.
type BoltStore struct {
	db     *bbolt.DB
	logger *slog.Logger
	noSync bool // disables fsync per transaction (for testing only)
}

// Option configures a BoltStore instance.
type Option func(*BoltStore)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(b *BoltStore) {
		b.logger = logger
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) Option {
	return func(b *BoltStore) {
		b.noSync = noSync
	}
}

// New creates a new BoltStore with options. Call Open before use.
func New(opts ...Option) *BoltStore {
	b := &BoltStore{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database file at the given path.
func (b *BoltStore) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	err = b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return fmt.Errorf("creating bucket %s: %w", bucketRecords, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	b.logger.Debug("opened bolt store", "path", path, "noSync", b.noSync)
	return nil
}

// Close closes the database and releases resources.
func (b *BoltStore) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing bolt store")
	return b.db.Close()
}

// Read returns the blob stored under key, or store.ErrNotFound.
func (b *BoltStore) Read(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return store.ErrNotFound
		}

		val := bucket.Get([]byte(key))
		if val == nil {
			return store.ErrNotFound
		}

		data = make([]byte, len(val))
		copy(data, val)
		return nil
	})
	return data, err
}

// Write stores the blob under key, replacing any prior value.
func (b *BoltStore) Write(_ context.Context, key string, data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return fmt.Errorf("records bucket not found")
		}

		if err := bucket.Put([]byte(key), data); err != nil {
			return fmt.Errorf("putting record: %w", err)
		}
		return nil
	})
}

// Delete removes the blob under key. Missing keys are not an error.
func (b *BoltStore) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// DeleteMany removes a batch of keys in a single transaction.
func (b *BoltStore) DeleteMany(_ context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return nil
		}
		for _, key := range keys {
			if err := bucket.Delete([]byte(key)); err != nil {
				return fmt.Errorf("deleting %q: %w", key, err)
			}
		}
		return nil
	})
}

// ListKeys returns all stored keys.
func (b *BoltStore) ListKeys(_ context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Compile-time interface check
var _ store.Store = (*BoltStore)(nil)

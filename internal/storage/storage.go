// Package storage defines the key/document store the services persist
// through. Only per-document atomicity is assumed; there are no cross-key
// transactions.
package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// Store is the minimal document-store surface: create, find-by-key,
// update-by-key, prefix listing.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	// PutIfAbsent writes only when the key does not exist yet and reports
	// whether the write happened. The check and write are atomic.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	Close() error
}

// Package store holds the persistence boundary of the arena: audio bytes go
// to a BlobStore, battle records go to a DocStore. Both have in-memory
// implementations so the core stays testable without cloud credentials.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrConflict      = errors.New("store: version conflict")
)

// BlobStore persists opaque byte blobs under caller-chosen keys and returns
// a URI the frontend can fetch them from.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// DocStore persists JSON documents with optimistic concurrency. Versions
// start at 1 on create and increment on every update. Passing
// expectedVersion 0 to Update skips the version check and overwrites.
type DocStore interface {
	Create(ctx context.Context, collection, id string, doc []byte) error
	Get(ctx context.Context, collection, id string) ([]byte, int64, error)
	Update(ctx context.Context, collection, id string, doc []byte, expectedVersion int64) error
}

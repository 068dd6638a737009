// Package objectstore holds media files and generated JSON documents under
// slash-separated keys. Implementations can be in-memory or bbolt-backed;
// callers of Store do not need to know which one is used.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get, Head and Delete when no object exists
// under the requested key.
var ErrNotFound = errors.New("object not found")

// Info describes a stored object without its body.
type Info struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Object is a stored object together with its body.
type Object struct {
	Info
	Data []byte
}

// Store is the persistence abstraction for media objects and playlist
// documents. Put replaces any existing object under the same key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (*Object, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) error
	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Close() error
}

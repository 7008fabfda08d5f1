package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Stat and Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
	ETag     string
	Metadata map[string]string
}

// PutOptions tunes a streaming upload. ExpectedSize is a hint for part sizing
// only; the reader is always consumed until EOF.
type PutOptions struct {
	ExpectedSize int64
	Metadata     map[string]string
}

type Storage interface {
	Put(ctx context.Context, key string, reader io.Reader, opts PutOptions) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

package storage

import (
	"context"
	"io"
)

type Object struct {
	Name string
	Size int64
}

// ObjectStore is the object storage collaborator. Implementations are bound
// to a single bucket at construction.
type ObjectStore interface {
	CreateBucket(ctx context.Context) error

	PutObject(ctx context.Context, key string, data io.Reader) error

	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	DeleteObject(ctx context.Context, key string) error

	ListObjects(ctx context.Context, prefix string) ([]Object, error)

	// ObjectURL resolves a fetchable URL for a stored object.
	ObjectURL(ctx context.Context, key string) (string, error)
}

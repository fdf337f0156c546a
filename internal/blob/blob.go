package blob

import (
	"context"
	"io"
)

// Object describes a persisted upload.
type Object struct {
	// Location is the absolute path or URI downstream stages read from.
	Location string
	Size     int64
}

// Store persists uploaded documents under a caller-chosen key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (Object, error)
}

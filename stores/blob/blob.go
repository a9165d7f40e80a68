// Package blob abstracts the content addressed byte bucket the service
// keeps event blocks, delegation archives and agent messages in.
package blob

import (
	"context"
	"time"
)

// Store is a flat keyed byte bucket.
type Store interface {
	// Put writes the value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Get reads the value under key. The second return is false when the
	// key does not exist.
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// PresignedPutter mints URLs that allow a client to upload a value
// directly to the bucket without going through the service.
type PresignedPutter interface {
	PresignPut(ctx context.Context, key string, expires time.Duration) (string, error)
}

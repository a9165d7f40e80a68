// Package kv abstracts the small keyed metadata store the service keeps
// clock heads and delegation indexes in.
package kv

import "context"

// Store is a string keyed value store with ordered prefix listing.
type Store interface {
	Put(ctx context.Context, key, value string) error
	// Get reads the value under key. The second return is false when the
	// key does not exist.
	Get(ctx context.Context, key string) (string, bool, error)
	// List returns the keys beginning with prefix in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Package delegations persists UCAN delegations and finds them again by
// audience. The service uses it to resolve proofs a client references by
// CID but does not embed in its invocation.
package delegations

import (
	"context"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"
)

type PutOption func(*putConfig)

type putConfig struct {
	cause ucan.Link
}

// WithCause records the invocation that carried the delegations, so a
// stored delegation can be traced back to how it arrived.
func WithCause(cause ucan.Link) PutOption {
	return func(c *putConfig) {
		c.cause = cause
	}
}

type Store interface {
	// PutMany stores the delegations. Storing a delegation that already
	// exists is a no-op.
	PutMany(ctx context.Context, dlgs []delegation.Delegation, opts ...PutOption) error
	// Find returns every stored delegation whose audience is the given DID.
	Find(ctx context.Context, audience did.DID) ([]delegation.Delegation, error)
}

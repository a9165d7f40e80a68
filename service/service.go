// Package service implements the capability handlers of the clock service
// and assembles them into a UCAN server.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	clockcap "github.com/fireproof-storage/ucan-clock/capabilities/clock"
	storecap "github.com/fireproof-storage/ucan-clock/capabilities/store"
	"github.com/fireproof-storage/ucan-clock/email"
	"github.com/fireproof-storage/ucan-clock/provide"
	"github.com/fireproof-storage/ucan-clock/stores/agents"
	"github.com/fireproof-storage/ucan-clock/stores/blob"
	"github.com/fireproof-storage/ucan-clock/stores/delegations"
	"github.com/fireproof-storage/ucan-clock/stores/kv"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/server"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/storacha/go-ucanto/validator"
)

// Context carries the dependencies of the service handlers.
type Context struct {
	Signer principal.Signer
	// URL is the public URL of the service, used to build confirmation links.
	URL *url.URL
	// Bucket holds event blocks, delegation archives and agent messages.
	Bucket blob.Store
	// Presigner mints upload URLs for store/add. Optional; store/add fails
	// without it.
	Presigner   blob.PresignedPutter
	KV          kv.Store
	Delegations delegations.Store
	Agents      *agents.Store
	// Mailer sends share confirmation email. Optional; without it the
	// confirmation URL is only returned in the receipt.
	Mailer email.Mailer
	Log    *slog.Logger
}

// NewServer assembles the UCAN server for the clock service.
func NewServer(sctx Context) (server.ServerView[server.Service], error) {
	if sctx.Log == nil {
		sctx.Log = slog.Default()
	}
	finder := provide.DelegationFinder(sctx.Delegations.Find)
	return server.NewServer(
		sctx.Signer,
		server.WithServiceMethod(clockcap.Advance.Can(), provide.Provide(clockcap.Advance, finder, advance(sctx))),
		server.WithServiceMethod(clockcap.Head.Can(), provide.Provide(clockcap.Head, finder, head(sctx))),
		server.WithServiceMethod(clockcap.Register.Can(), provide.Provide(clockcap.Register, finder, register(sctx))),
		server.WithServiceMethod(clockcap.AuthorizeShare.Can(), provide.Provide(clockcap.AuthorizeShare, finder, authorizeShare(sctx))),
		server.WithServiceMethod(clockcap.ConfirmShare.Can(), provide.Provide(clockcap.ConfirmShare, finder, confirmShare(sctx))),
		server.WithServiceMethod(clockcap.ClaimShare.Can(), provide.Provide(clockcap.ClaimShare, finder, claimShare(sctx))),
		server.WithServiceMethod(clockcap.ClaimShares.Can(), provide.Provide(clockcap.ClaimShares, finder, claimShares(sctx))),
		server.WithServiceMethod(storecap.Add.Can(), server.Provide(storecap.Add, storeAdd(sctx))),
		server.WithServiceMethod(storecap.Get.Can(), server.Provide(storecap.Get, storeGet(sctx))),
		server.WithProofResolver(resolveProof(sctx)),
		server.WithErrorHandler(func(err server.HandlerExecutionError[any]) {
			sctx.Log.Error("handler execution failed", "error", err.Error())
		}),
	)
}

// resolveProof serves proofs referenced by CID from stored delegation
// archives.
func resolveProof(sctx Context) validator.ProofResolverFunc {
	return func(ctx context.Context, proof ucan.Link) (delegation.Delegation, validator.UnavailableProof) {
		archive, ok, err := sctx.Bucket.Get(ctx, proof.String())
		if err != nil {
			return nil, validator.NewUnavailableProofError(proof, err)
		}
		if !ok {
			return nil, validator.NewUnavailableProofError(proof, fmt.Errorf("delegation archive not found: %s", proof))
		}
		d, err := delegation.Extract(archive)
		if err != nil {
			return nil, validator.NewUnavailableProofError(proof, err)
		}
		return d, nil
	}
}

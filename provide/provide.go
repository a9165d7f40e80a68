// Package provide wraps capability handlers with UCAN validation that can
// fall back on delegations the service has stored. A client may invoke a
// capability without embedding its proof chain when the chain was
// previously registered or shared through the service.
package provide

import (
	"context"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/core/result/failure"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/server"
	"github.com/storacha/go-ucanto/server/transaction"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/storacha/go-ucanto/validator"
)

// DelegationFinder returns the stored delegations whose audience is the
// given DID.
type DelegationFinder func(ctx context.Context, audience did.DID) ([]delegation.Delegation, error)

// canIssuer adapts the untyped CanIssue function of the invocation context
// to the typed form Prune expects.
type canIssuer[Caveats any] struct {
	canIssue validator.CanIssueFunc[any]
}

func (ci canIssuer[Caveats]) CanIssue(c ucan.Capability[Caveats], d did.DID) bool {
	return ci.canIssue(ucan.NewCapability[any](c.Can(), c.With(), c.Nb()), d)
}

// Provide decorates a handler like [server.Provide], but when validation
// of the invocation's own proofs fails it retries the claim against the
// delegations stored for the invocation issuer. The handler is only called
// when one of the two passes succeeds.
func Provide[C any, O ipld.Builder, X failure.IPLDBuilderFailure](
	capability validator.CapabilityParser[C],
	finder DelegationFinder,
	handler server.HandlerFunc[C, O, X],
) server.ServiceMethod[O, failure.IPLDBuilderFailure] {
	return func(ctx context.Context, inv invocation.Invocation, ictx server.InvocationContext) (transaction.Transaction[O, failure.IPLDBuilderFailure], error) {
		vctx := validator.NewValidationContext(
			ictx.ID().Verifier(),
			capability,
			ictx.CanIssue,
			ictx.ValidateAuthorization,
			ictx.ResolveProof,
			ictx.ParsePrincipal,
			ictx.ResolveDIDKey,
			ictx.AuthorityProofs()...,
		)

		if inv.Audience().DID() != ictx.ID().DID() {
			audErr := server.NewInvalidAudienceError(inv.Audience(), ictx.ID())
			return transaction.NewTransaction(result.Error[O, failure.IPLDBuilderFailure](audErr)), nil
		}

		auth, aerr := validator.Access(ctx, inv, vctx)
		if aerr != nil {
			stored, serr := claimStored(ctx, inv, capability, finder, vctx)
			if serr != nil {
				// Report the original failure, not the retry's.
				return transaction.NewTransaction(result.Error[O](failure.FromError(aerr))), nil
			}
			auth = stored
		}

		res, fx, herr := handler(ctx, auth.Capability(), inv, ictx)
		if herr != nil {
			return nil, herr
		}

		return transaction.NewTransaction(
			result.MapResultR0(
				res,
				func(o O) O { return o },
				func(x X) failure.IPLDBuilderFailure { return x },
			),
			transaction.WithEffects(fx),
		), nil
	}
}

// claimStored attempts to authorize the invocation using delegations the
// service holds for the invocation issuer. The invocation signature is
// verified first, then each stored delegation is validated with the full
// stored set available as session proofs, so attested did:mailto chains
// resolve.
func claimStored[C any](
	ctx context.Context,
	inv invocation.Invocation,
	capability validator.CapabilityParser[C],
	finder DelegationFinder,
	vctx validator.ValidationContext[C],
) (validator.Authorization[C], error) {
	if _, verr := validator.Validate(ctx, inv, nil, vctx); verr != nil {
		return nil, verr
	}

	issuer := inv.Issuer().DID()
	stored, err := finder(ctx, issuer)
	if err != nil {
		return nil, err
	}

	var candidates []delegation.Delegation
	for _, d := range stored {
		if d.Audience().DID() == issuer {
			candidates = append(candidates, d)
		}
	}

	var sources []validator.Source
	for _, d := range candidates {
		if _, verr := validator.Validate(ctx, d, stored, vctx); verr != nil {
			continue
		}
		for _, c := range d.Capabilities() {
			sources = append(sources, validator.NewSource(c, d))
		}
	}

	ci := canIssuer[C]{canIssue: vctx.CanIssue}
	claimed, _, _ := capability.Select([]validator.Source{
		validator.NewSource(inv.Capabilities()[0], inv),
	})

	for _, m := range claimed {
		sub, _, _ := m.Select(sources)
		for _, sm := range sub {
			var proof validator.Authorization[C]
			if sm.Prune(ci) == nil {
				proof = validator.NewAuthorization(sm, nil)
			} else {
				a, serr := validator.Authorize(ctx, sm, vctx)
				if serr != nil {
					continue
				}
				proof = validator.NewAuthorization(sm, []validator.Authorization[C]{a})
			}
			auth := validator.NewAuthorization(m, []validator.Authorization[C]{proof})
			if revoked := vctx.ValidateAuthorization(ctx, validator.ConvertUnknownAuthorization(auth)); revoked != nil {
				continue
			}
			return auth, nil
		}
	}

	return nil, validator.NewUnauthorizedError(capability, nil, nil, nil, nil)
}

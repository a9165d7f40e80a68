package service

import (
	"bytes"
	"context"

	clockcap "github.com/fireproof-storage/ucan-clock/capabilities/clock"
	"github.com/fireproof-storage/ucan-clock/stores/delegations"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/storacha/go-ucanto/core/dag/blockstore"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/receipt/fx"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/core/result/failure"
	"github.com/storacha/go-ucanto/server"
	"github.com/storacha/go-ucanto/ucan"
)

func clockKey(resource string) string {
	return "clock/" + resource
}

// validateEvent checks the decoded bytes look like a clock event. The block
// must be a map with a data property and a parents array.
func validateEvent(data []byte) failure.IPLDBuilderFailure {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(data)); err != nil {
		return NewInvalidEventError("Associated clock event is not an object.")
	}
	node := nb.Build()
	if node.Kind() != datamodel.Kind_Map {
		return NewInvalidEventError("Associated clock event is not an object.")
	}
	if _, err := node.LookupByString("data"); err != nil {
		return NewInvalidEventError("Associated clock event does not have the `data` property.")
	}
	parents, err := node.LookupByString("parents")
	if err != nil {
		return NewInvalidEventError("Associated clock event does not have the `parents` property.")
	}
	if parents.Kind() != datamodel.Kind_List {
		return NewInvalidEventError("Associated clock event does not have a valid `parents` property, expected an array.")
	}
	return nil
}

// advance moves the clock head to the given event. The event must already
// be in the bucket.
func advance(sctx Context) server.HandlerFunc[clockcap.AdvanceCaveats, clockcap.AdvanceOk, failure.IPLDBuilderFailure] {
	return func(ctx context.Context, cap ucan.Capability[clockcap.AdvanceCaveats], inv invocation.Invocation, ictx server.InvocationContext) (result.Result[clockcap.AdvanceOk, failure.IPLDBuilderFailure], fx.Effects, error) {
		event := cap.Nb().Event
		data, ok, err := sctx.Bucket.Get(ctx, event.String())
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return result.Error[clockcap.AdvanceOk](NewEventNotFoundError()), nil, nil
		}

		if ferr := validateEvent(data); ferr != nil {
			return result.Error[clockcap.AdvanceOk](ferr), nil, nil
		}

		if err := sctx.KV.Put(ctx, clockKey(cap.With()), event.String()); err != nil {
			return nil, nil, err
		}

		return result.Ok[clockcap.AdvanceOk, failure.IPLDBuilderFailure](clockcap.AdvanceOk{Head: event.String()}), nil, nil
	}
}

// head reads the current clock head, which is absent until the first
// advance.
func head(sctx Context) server.HandlerFunc[clockcap.HeadCaveats, clockcap.HeadOk, failure.IPLDBuilderFailure] {
	return func(ctx context.Context, cap ucan.Capability[clockcap.HeadCaveats], inv invocation.Invocation, ictx server.InvocationContext) (result.Result[clockcap.HeadOk, failure.IPLDBuilderFailure], fx.Effects, error) {
		h, ok, err := sctx.KV.Get(ctx, clockKey(cap.With()))
		if err != nil {
			return nil, nil, err
		}
		var hd *string
		if ok && h != "" {
			hd = &h
		}
		return result.Ok[clockcap.HeadOk, failure.IPLDBuilderFailure](clockcap.HeadOk{Head: hd}), nil, nil
	}
}

// register stores the clock's genesis delegation with the service so later
// invocations can rely on it without embedding it.
func register(sctx Context) server.HandlerFunc[clockcap.RegisterCaveats, clockcap.RegisterOk, failure.IPLDBuilderFailure] {
	return func(ctx context.Context, cap ucan.Capability[clockcap.RegisterCaveats], inv invocation.Invocation, ictx server.InvocationContext) (result.Result[clockcap.RegisterOk, failure.IPLDBuilderFailure], fx.Effects, error) {
		prfs := inv.Proofs()
		if len(prfs) == 0 || prfs[0].String() != cap.Nb().Proof.String() {
			return result.Error[clockcap.RegisterOk](NewProofMismatchError()), nil, nil
		}

		embedded, err := embeddedProofs(inv)
		if err != nil {
			return nil, nil, err
		}
		if err := sctx.Delegations.PutMany(ctx, embedded, delegations.WithCause(inv.Link())); err != nil {
			return nil, nil, err
		}

		return result.Ok[clockcap.RegisterOk, failure.IPLDBuilderFailure](clockcap.RegisterOk{}), nil, nil
	}
}

// embeddedProofs materializes the proofs whose blocks travelled with the
// invocation. Proofs only referenced by link are left out.
func embeddedProofs(inv invocation.Invocation) ([]delegation.Delegation, error) {
	br, err := blockstore.NewBlockReader(blockstore.WithBlocksIterator(inv.Blocks()))
	if err != nil {
		return nil, err
	}
	var dlgs []delegation.Delegation
	for _, p := range delegation.NewProofsView(inv.Proofs(), br) {
		if d, ok := p.Delegation(); ok {
			dlgs = append(dlgs, d)
		}
	}
	return dlgs, nil
}

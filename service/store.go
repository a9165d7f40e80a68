package service

import (
	"context"
	"errors"
	"time"

	storecap "github.com/fireproof-storage/ucan-clock/capabilities/store"
	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/receipt/fx"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/core/result/failure"
	"github.com/storacha/go-ucanto/server"
	"github.com/storacha/go-ucanto/ucan"
)

// uploadTTL is how long a presigned upload URL stays valid.
const uploadTTL = 24 * time.Hour

// storeAdd allocates space for a CAR and returns a presigned URL the client
// uploads it to.
func storeAdd(sctx Context) server.HandlerFunc[storecap.AddCaveats, storecap.AddOk, failure.IPLDBuilderFailure] {
	return func(ctx context.Context, cap ucan.Capability[storecap.AddCaveats], inv invocation.Invocation, ictx server.InvocationContext) (result.Result[storecap.AddOk, failure.IPLDBuilderFailure], fx.Effects, error) {
		if sctx.Presigner == nil {
			return nil, nil, errors.New("no presigner configured")
		}
		nb := cap.Nb()
		url, err := sctx.Presigner.PresignPut(ctx, nb.Link.String(), uploadTTL)
		if err != nil {
			return nil, nil, err
		}
		return result.Ok[storecap.AddOk, failure.IPLDBuilderFailure](storecap.AddOk{
			Status:    "upload",
			Allocated: nb.Size,
			Link:      nb.Link,
			Url:       url,
		}), nil, nil
	}
}

// storeGet reads a stored block by CID.
func storeGet(sctx Context) server.HandlerFunc[storecap.GetCaveats, storecap.GetOk, failure.IPLDBuilderFailure] {
	return func(ctx context.Context, cap ucan.Capability[storecap.GetCaveats], inv invocation.Invocation, ictx server.InvocationContext) (result.Result[storecap.GetOk, failure.IPLDBuilderFailure], fx.Effects, error) {
		link := cap.Nb().Link
		if link == nil {
			return result.Error[storecap.GetOk](NewMissingLinkError()), nil, nil
		}
		data, ok, err := sctx.Bucket.Get(ctx, link.String())
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return result.Error[storecap.GetOk](NewNotFoundError()), nil, nil
		}
		return result.Ok[storecap.GetOk, failure.IPLDBuilderFailure](storecap.GetOk(data)), nil, nil
	}
}

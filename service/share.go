package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	clockcap "github.com/fireproof-storage/ucan-clock/capabilities/clock"
	ucancap "github.com/fireproof-storage/ucan-clock/capabilities/ucan"
	"github.com/fireproof-storage/ucan-clock/didmailto"
	"github.com/fireproof-storage/ucan-clock/email"
	"github.com/fireproof-storage/ucan-clock/stores/agents"
	"github.com/fireproof-storage/ucan-clock/stores/delegations"
	"github.com/multiformats/go-multibase"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/message"
	"github.com/storacha/go-ucanto/core/receipt/fx"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/core/result/failure"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/server"
	"github.com/storacha/go-ucanto/ucan"
)

// confirmationTTL is how long an emailed share confirmation link stays
// valid.
const confirmationTTL = 60 * 60 * 24 * 2

// EncodeConfirmation renders a delegation as a URL-safe string for use in
// confirmation links.
func EncodeConfirmation(d delegation.Delegation) (string, error) {
	archive, err := io.ReadAll(d.Archive())
	if err != nil {
		return "", fmt.Errorf("archiving confirmation: %w", err)
	}
	return multibase.Encode(multibase.Base64url, archive)
}

// ExtractConfirmation reverses [EncodeConfirmation].
func ExtractConfirmation(s string) (delegation.Delegation, error) {
	_, archive, err := multibase.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decoding confirmation: %w", err)
	}
	d, err := delegation.Extract(archive)
	if err != nil {
		return nil, fmt.Errorf("extracting confirmation: %w", err)
	}
	return d, nil
}

// authorizeShare stores the share delegation and kicks off the email
// confirmation flow towards the sharer. The share stays unusable until the
// confirmation produces an attestation.
func authorizeShare(sctx Context) server.HandlerFunc[clockcap.AuthorizeShareCaveats, clockcap.AuthorizeShareOk, failure.IPLDBuilderFailure] {
	return func(ctx context.Context, cap ucan.Capability[clockcap.AuthorizeShareCaveats], inv invocation.Invocation, ictx server.InvocationContext) (result.Result[clockcap.AuthorizeShareOk, failure.IPLDBuilderFailure], fx.Effects, error) {
		prfs := inv.Proofs()
		if len(prfs) == 0 || prfs[0].String() != cap.Nb().Proof.String() {
			return result.Error[clockcap.AuthorizeShareOk](NewProofMismatchError()), nil, nil
		}

		// The share delegation is useless until the attestation from the
		// email flow arrives, but it is stored now so claiming only needs
		// the attestation.
		embedded, err := embeddedProofs(inv)
		if err != nil {
			return nil, nil, err
		}
		if err := sctx.Delegations.PutMany(ctx, embedded, delegations.WithCause(inv.Link())); err != nil {
			return nil, nil, err
		}

		confirmation, err := clockcap.ConfirmShare.Invoke(
			sctx.Signer,
			sctx.Signer,
			sctx.Signer.DID().String(),
			clockcap.ConfirmShareCaveats{Cause: inv.Link()},
			delegation.WithExpiration(int(ucan.Now())+confirmationTTL),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("issuing confirmation: %w", err)
		}

		encoded, err := EncodeConfirmation(confirmation)
		if err != nil {
			return nil, nil, err
		}

		confirmURL := *sctx.URL
		confirmURL.Path = "/validate-email"
		confirmURL.RawQuery = "ucan=" + encoded + "&mode=share"

		if sctx.Mailer != nil {
			if err := sendShareEmail(ctx, sctx.Mailer, cap.Nb(), confirmURL.String()); err != nil {
				return nil, nil, err
			}
		}

		msg, err := message.Build([]invocation.Invocation{inv}, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("building agent message: %w", err)
		}
		if err := sctx.Agents.Write(ctx, msg); err != nil {
			return nil, nil, err
		}

		return result.Ok[clockcap.AuthorizeShareOk, failure.IPLDBuilderFailure](clockcap.AuthorizeShareOk{Url: confirmURL.String()}), nil, nil
	}
}

func sendShareEmail(ctx context.Context, mailer email.Mailer, nb clockcap.AuthorizeShareCaveats, actionURL string) error {
	sharer, err := mailtoEmail(nb.Iss)
	if err != nil {
		return err
	}
	recipient, err := mailtoEmail(nb.Recipient)
	if err != nil {
		return err
	}
	return mailer.Send(ctx, email.Message{
		To:       sharer,
		Template: "share",
		Data: map[string]string{
			"product_url":           "https://fireproof.storage",
			"product_name":          "Fireproof Storage",
			"email":                 sharer,
			"email_share_recipient": recipient,
			"action_url":            actionURL,
		},
	})
}

func mailtoEmail(s string) (string, error) {
	d, err := did.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parsing account DID: %w", err)
	}
	return didmailto.ToEmail(d)
}

// confirmShare reacts to the sharer following the emailed link. It looks up
// the original authorize-share invocation and issues the attestation that
// makes the share claimable.
func confirmShare(sctx Context) server.HandlerFunc[clockcap.ConfirmShareCaveats, clockcap.ConfirmShareOk, failure.IPLDBuilderFailure] {
	return func(ctx context.Context, cap ucan.Capability[clockcap.ConfirmShareCaveats], inv invocation.Invocation, ictx server.InvocationContext) (result.Result[clockcap.ConfirmShareOk, failure.IPLDBuilderFailure], fx.Effects, error) {
		cause, err := sctx.Agents.GetInvocation(ctx, cap.Nb().Cause)
		if err != nil {
			var rnf *agents.RecordNotFoundError
			if errors.As(err, &rnf) {
				return result.Error[clockcap.ConfirmShareOk, failure.IPLDBuilderFailure](rnf), nil, nil
			}
			return nil, nil, err
		}

		caps := cause.Capabilities()
		if len(caps) == 0 {
			return result.Error[clockcap.ConfirmShareOk](NewBadCauseError()), nil, nil
		}
		nb, rerr := clockcap.AuthorizeShareCaveatsReader.Read(caps[0].Nb())
		if rerr != nil {
			return result.Error[clockcap.ConfirmShareOk](NewBadCauseError()), nil, nil
		}

		recipient, err := did.Parse(nb.Recipient)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing share recipient: %w", err)
		}

		attestation, err := ucancap.Attest.Delegate(
			sctx.Signer,
			recipient,
			sctx.Signer.DID().String(),
			ucancap.AttestCaveats{Proof: nb.Proof},
			delegation.WithNoExpiration(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("issuing attestation: %w", err)
		}

		if err := sctx.Delegations.PutMany(ctx, []delegation.Delegation{attestation}); err != nil {
			return nil, nil, err
		}

		return result.Ok[clockcap.ConfirmShareOk, failure.IPLDBuilderFailure](clockcap.ConfirmShareOk{}), nil, nil
	}
}

// claimShare returns the share delegation and its attestation as CAR
// archives. An unconfirmed or unknown share yields an empty map.
func claimShare(sctx Context) server.HandlerFunc[clockcap.ClaimShareCaveats, clockcap.ClaimOk, failure.IPLDBuilderFailure] {
	return func(ctx context.Context, cap ucan.Capability[clockcap.ClaimShareCaveats], inv invocation.Invocation, ictx server.InvocationContext) (result.Result[clockcap.ClaimOk, failure.IPLDBuilderFailure], fx.Effects, error) {
		recipient, err := did.Parse(cap.Nb().Recipient)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing share recipient: %w", err)
		}
		found, err := sctx.Delegations.Find(ctx, recipient)
		if err != nil {
			return nil, nil, err
		}

		shareLink := cap.Nb().Proof.String()
		attestation := findAttestation(found, sctx.Signer.DID(), shareLink)
		if attestation == nil {
			return emptyClaim(), nil, nil
		}

		var share delegation.Delegation
		for _, d := range found {
			if d.Link().String() == shareLink {
				share = d
				break
			}
		}
		if share == nil {
			return emptyClaim(), nil, nil
		}

		dlgs, err := archiveAll(attestation, share)
		if err != nil {
			return nil, nil, err
		}
		return result.Ok[clockcap.ClaimOk, failure.IPLDBuilderFailure](clockcap.ClaimOk{Delegations: dlgs}), nil, nil
	}
}

// claimShares returns every confirmed share addressed to the recipient,
// pairing each attestation with the delegation it vouches for.
func claimShares(sctx Context) server.HandlerFunc[clockcap.ClaimSharesCaveats, clockcap.ClaimOk, failure.IPLDBuilderFailure] {
	return func(ctx context.Context, cap ucan.Capability[clockcap.ClaimSharesCaveats], inv invocation.Invocation, ictx server.InvocationContext) (result.Result[clockcap.ClaimOk, failure.IPLDBuilderFailure], fx.Effects, error) {
		recipient, err := did.Parse(cap.Nb().Recipient)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing share recipient: %w", err)
		}
		found, err := sctx.Delegations.Find(ctx, recipient)
		if err != nil {
			return nil, nil, err
		}

		byCID := map[string]delegation.Delegation{}
		for _, d := range found {
			byCID[d.Link().String()] = d
		}

		out := map[string][]byte{}
		for _, d := range found {
			proof, ok := attestationProof(d, sctx.Signer.DID())
			if !ok {
				continue
			}
			share, ok := byCID[proof]
			if !ok {
				continue
			}
			pair, err := archiveAll(d, share)
			if err != nil {
				return nil, nil, err
			}
			for k, v := range pair {
				out[k] = v
			}
		}

		return result.Ok[clockcap.ClaimOk, failure.IPLDBuilderFailure](clockcap.ClaimOk{Delegations: out}), nil, nil
	}
}

func emptyClaim() result.Result[clockcap.ClaimOk, failure.IPLDBuilderFailure] {
	return result.Ok[clockcap.ClaimOk, failure.IPLDBuilderFailure](clockcap.ClaimOk{Delegations: map[string][]byte{}})
}

// attestationProof returns the attested proof CID when d is a ucan/attest
// delegation issued by the service.
func attestationProof(d delegation.Delegation, service did.DID) (string, bool) {
	if d.Issuer().DID() != service {
		return "", false
	}
	caps := d.Capabilities()
	if len(caps) == 0 || caps[0].Can() != "ucan/attest" {
		return "", false
	}
	nb, rerr := ucancap.AttestCaveatsReader.Read(caps[0].Nb())
	if rerr != nil || nb.Proof == nil {
		return "", false
	}
	return nb.Proof.String(), true
}

func findAttestation(dlgs []delegation.Delegation, service did.DID, shareLink string) delegation.Delegation {
	for _, d := range dlgs {
		if proof, ok := attestationProof(d, service); ok && proof == shareLink {
			return d
		}
	}
	return nil
}

func archiveAll(dlgs ...delegation.Delegation) (map[string][]byte, error) {
	out := map[string][]byte{}
	for _, d := range dlgs {
		archive, err := io.ReadAll(d.Archive())
		if err != nil {
			return nil, fmt.Errorf("archiving delegation %s: %w", d.Link(), err)
		}
		out[d.Link().String()] = archive
	}
	return out, nil
}

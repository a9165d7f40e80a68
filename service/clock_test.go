package service

import (
	"testing"

	clockcap "github.com/fireproof-storage/ucan-clock/capabilities/clock"
	ucancap "github.com/fireproof-storage/ucan-clock/capabilities/ucan"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/principal/absentee"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/storacha/go-ucanto/testing/fixtures"
	"github.com/storacha/go-ucanto/testing/helpers"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndHead(t *testing.T) {
	tb := newTestbed(t)
	srv := helpers.Must(NewServer(tb.sctx))

	clockSigner := helpers.Must(signer.Generate())
	genesis := helpers.Must(clockcap.Clock.Delegate(
		clockSigner,
		fixtures.Alice,
		clockSigner.DID().String(),
		clockcap.ClockCaveats{},
		delegation.WithNoExpiration(),
	))

	reg := helpers.Must(clockcap.Register.Invoke(
		fixtures.Alice,
		fixtures.Service,
		clockSigner.DID().String(),
		clockcap.RegisterCaveats{Proof: genesis.Link()},
		delegation.WithProof(delegation.FromDelegation(genesis)),
	))
	rcpt := helpers.Must(srv.Run(t.Context(), reg))
	requireOkNode(t, rcpt)

	// The genesis delegation is now stored, so head works without an
	// embedded proof.
	hd := helpers.Must(clockcap.Head.Invoke(
		fixtures.Alice,
		fixtures.Service,
		clockSigner.DID().String(),
		clockcap.HeadCaveats{},
	))
	rcpt = helpers.Must(srv.Run(t.Context(), hd))
	node := requireOkNode(t, rcpt)
	_, err := node.LookupByString("head")
	require.Error(t, err, "head should be unset before the first advance")
}

func TestRegisterProofMismatch(t *testing.T) {
	tb := newTestbed(t)
	srv := helpers.Must(NewServer(tb.sctx))

	clockSigner := helpers.Must(signer.Generate())
	genesis := helpers.Must(clockcap.Clock.Delegate(
		clockSigner,
		fixtures.Alice,
		clockSigner.DID().String(),
		clockcap.ClockCaveats{},
		delegation.WithNoExpiration(),
	))

	reg := helpers.Must(clockcap.Register.Invoke(
		fixtures.Alice,
		fixtures.Service,
		clockSigner.DID().String(),
		clockcap.RegisterCaveats{Proof: helpers.RandomCID()},
		delegation.WithProof(delegation.FromDelegation(genesis)),
	))
	rcpt := helpers.Must(srv.Run(t.Context(), reg))
	requireFailureName(t, rcpt, "ProofMismatch")
}

func TestAdvance(t *testing.T) {
	tb := newTestbed(t)
	srv := helpers.Must(NewServer(tb.sctx))

	clockSigner := helpers.Must(signer.Generate())
	genesis := helpers.Must(clockcap.Clock.Delegate(
		clockSigner,
		fixtures.Alice,
		clockSigner.DID().String(),
		clockcap.ClockCaveats{},
		delegation.WithNoExpiration(),
	))
	prf := delegation.WithProof(delegation.FromDelegation(genesis))

	t.Run("event not stored", func(t *testing.T) {
		adv := helpers.Must(clockcap.Advance.Invoke(
			fixtures.Alice,
			fixtures.Service,
			clockSigner.DID().String(),
			clockcap.AdvanceCaveats{Event: helpers.RandomCID()},
			prf,
		))
		rcpt := helpers.Must(srv.Run(t.Context(), adv))
		requireFailureName(t, rcpt, "EventNotFound")
	})

	t.Run("malformed event", func(t *testing.T) {
		event := storeEvent(t, tb.bucket, false)
		adv := helpers.Must(clockcap.Advance.Invoke(
			fixtures.Alice,
			fixtures.Service,
			clockSigner.DID().String(),
			clockcap.AdvanceCaveats{Event: event},
			prf,
		))
		rcpt := helpers.Must(srv.Run(t.Context(), adv))
		requireFailureName(t, rcpt, "InvalidEvent")
	})

	t.Run("advance then head", func(t *testing.T) {
		event := storeEvent(t, tb.bucket, true)
		adv := helpers.Must(clockcap.Advance.Invoke(
			fixtures.Alice,
			fixtures.Service,
			clockSigner.DID().String(),
			clockcap.AdvanceCaveats{Event: event},
			prf,
		))
		rcpt := helpers.Must(srv.Run(t.Context(), adv))
		node := requireOkNode(t, rcpt)
		hn, err := node.LookupByString("head")
		require.NoError(t, err)
		hd, err := hn.AsString()
		require.NoError(t, err)
		require.Equal(t, event.String(), hd)

		head := helpers.Must(clockcap.Head.Invoke(
			fixtures.Alice,
			fixtures.Service,
			clockSigner.DID().String(),
			clockcap.HeadCaveats{},
			prf,
		))
		rcpt = helpers.Must(srv.Run(t.Context(), head))
		node = requireOkNode(t, rcpt)
		hn, err = node.LookupByString("head")
		require.NoError(t, err)
		hd, err = hn.AsString()
		require.NoError(t, err)
		require.Equal(t, event.String(), hd)
	})
}

func TestAdvanceUnauthorized(t *testing.T) {
	tb := newTestbed(t)
	srv := helpers.Must(NewServer(tb.sctx))

	clockSigner := helpers.Must(signer.Generate())
	event := storeEvent(t, tb.bucket, true)

	adv := helpers.Must(clockcap.Advance.Invoke(
		fixtures.Mallory,
		fixtures.Service,
		clockSigner.DID().String(),
		clockcap.AdvanceCaveats{Event: event},
	))
	rcpt := helpers.Must(srv.Run(t.Context(), adv))
	requireFailureName(t, rcpt, "Unauthorized")
}

// A did:mailto account that received a wildcard delegation can have its
// agents advance the clock without embedding any proofs, as long as the
// chain and its attestation are stored with the service.
func TestAdvanceViaStoredAccountChain(t *testing.T) {
	tb := newTestbed(t)
	srv := helpers.Must(NewServer(tb.sctx))

	clockSigner := helpers.Must(signer.Generate())
	account := absentee.From(helpers.Must(did.Parse("did:mailto:web.mail:alice")))

	genesis := helpers.Must(clockcap.Clock.Delegate(
		clockSigner,
		account,
		clockSigner.DID().String(),
		clockcap.ClockCaveats{},
		delegation.WithNoExpiration(),
	))

	accountToAgent := helpers.Must(delegation.Delegate(
		account,
		fixtures.Alice,
		[]ucan.Capability[ucan.NoCaveats]{
			ucan.NewCapability("*", "ucan:*", ucan.NoCaveats{}),
		},
		delegation.WithNoExpiration(),
		delegation.WithProof(delegation.FromDelegation(genesis)),
	))

	attestation := helpers.Must(ucancap.Attest.Delegate(
		fixtures.Service,
		fixtures.Alice,
		fixtures.Service.DID().String(),
		ucancap.AttestCaveats{Proof: accountToAgent.Link()},
		delegation.WithNoExpiration(),
	))

	require.NoError(t, tb.sctx.Delegations.PutMany(
		t.Context(),
		[]delegation.Delegation{accountToAgent, attestation},
	))

	event := storeEvent(t, tb.bucket, true)
	adv := helpers.Must(clockcap.Advance.Invoke(
		fixtures.Alice,
		fixtures.Service,
		clockSigner.DID().String(),
		clockcap.AdvanceCaveats{Event: event},
	))
	rcpt := helpers.Must(srv.Run(t.Context(), adv))
	node := requireOkNode(t, rcpt)
	hn, err := node.LookupByString("head")
	require.NoError(t, err)
	hd, err := hn.AsString()
	require.NoError(t, err)
	require.Equal(t, event.String(), hd)
}

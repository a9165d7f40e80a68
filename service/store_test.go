package service

import (
	"testing"

	storecap "github.com/fireproof-storage/ucan-clock/capabilities/store"
	"github.com/storacha/go-ucanto/testing/fixtures"
	"github.com/storacha/go-ucanto/testing/helpers"
	"github.com/stretchr/testify/require"
)

func TestStoreAdd(t *testing.T) {
	tb := newTestbed(t)
	srv := helpers.Must(NewServer(tb.sctx))

	link := helpers.RandomCID()
	inv := helpers.Must(storecap.Add.Invoke(
		fixtures.Alice,
		fixtures.Service,
		fixtures.Alice.DID().String(),
		storecap.AddCaveats{Link: link, Size: 1138},
	))
	rcpt := helpers.Must(srv.Run(t.Context(), inv))
	node := requireOkNode(t, rcpt)

	sn, err := node.LookupByString("status")
	require.NoError(t, err)
	status, err := sn.AsString()
	require.NoError(t, err)
	require.Equal(t, "upload", status)

	an, err := node.LookupByString("allocated")
	require.NoError(t, err)
	allocated, err := an.AsInt()
	require.NoError(t, err)
	require.EqualValues(t, 1138, allocated)

	un, err := node.LookupByString("url")
	require.NoError(t, err)
	uploadURL, err := un.AsString()
	require.NoError(t, err)
	require.Contains(t, uploadURL, link.String())
}

func TestStoreGet(t *testing.T) {
	tb := newTestbed(t)
	srv := helpers.Must(NewServer(tb.sctx))

	data := helpers.RandomBytes(32)
	link := helpers.RandomCID()
	require.NoError(t, tb.bucket.Put(t.Context(), link.String(), data))

	inv := helpers.Must(storecap.Get.Invoke(
		fixtures.Alice,
		fixtures.Service,
		fixtures.Alice.DID().String(),
		storecap.GetCaveats{Link: link},
	))
	rcpt := helpers.Must(srv.Run(t.Context(), inv))
	node := requireOkNode(t, rcpt)
	got, err := node.AsBytes()
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestStoreGetNotFound(t *testing.T) {
	tb := newTestbed(t)
	srv := helpers.Must(NewServer(tb.sctx))

	inv := helpers.Must(storecap.Get.Invoke(
		fixtures.Alice,
		fixtures.Service,
		fixtures.Alice.DID().String(),
		storecap.GetCaveats{Link: helpers.RandomCID()},
	))
	rcpt := helpers.Must(srv.Run(t.Context(), inv))
	requireFailureName(t, rcpt, "NotFound")
}

package service

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/fireproof-storage/ucan-clock/email"
	"github.com/fireproof-storage/ucan-clock/stores/agents"
	"github.com/fireproof-storage/ucan-clock/stores/blob"
	"github.com/fireproof-storage/ucan-clock/stores/delegations"
	"github.com/fireproof-storage/ucan-clock/stores/kv"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/multiformats/go-multihash"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/receipt"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/testing/fixtures"
	"github.com/storacha/go-ucanto/testing/helpers"
	"github.com/stretchr/testify/require"
)

// testbed wires a full service with in-memory stores. The UCAN server uses
// fixtures.Service as the service identity.
type testbed struct {
	sctx   Context
	bucket *blob.MemoryStore
	mailer *stubMailer
}

func newTestbed(t *testing.T) testbed {
	t.Helper()
	bucket := blob.NewMemoryStore()
	store := kv.NewMemoryStore()
	dlgs, err := delegations.NewPersistentStore(bucket, store)
	require.NoError(t, err)
	u, err := url.Parse("https://clock.example.com")
	require.NoError(t, err)
	mailer := &stubMailer{}
	return testbed{
		sctx: Context{
			Signer:      fixtures.Service,
			URL:         u,
			Bucket:      bucket,
			Presigner:   stubPresigner{},
			KV:          store,
			Delegations: dlgs,
			Agents:      agents.NewStore(bucket, store),
			Mailer:      mailer,
		},
		bucket: bucket,
		mailer: mailer,
	}
}

type stubMailer struct {
	sent []email.Message
}

func (m *stubMailer) Send(ctx context.Context, msg email.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type stubPresigner struct{}

func (stubPresigner) PresignPut(ctx context.Context, key string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://bucket.example.com/%s?X-Amz-Expires=%d", key, int(expires.Seconds())), nil
}

func requireOkNode(t *testing.T, rcpt receipt.AnyReceipt) ipld.Node {
	t.Helper()
	var node ipld.Node
	result.MatchResultR0(rcpt.Out(), func(ok ipld.Node) {
		node = ok
	}, func(x ipld.Node) {
		t.Fatalf("unexpected failure: %s", failureMessage(t, x))
	})
	return node
}

func requireFailureName(t *testing.T, rcpt receipt.AnyReceipt, name string) {
	t.Helper()
	result.MatchResultR0(rcpt.Out(), func(ok ipld.Node) {
		t.Fatal("expected failure, got ok")
	}, func(x ipld.Node) {
		nn, err := x.LookupByString("name")
		require.NoError(t, err)
		actual, err := nn.AsString()
		require.NoError(t, err)
		require.Equal(t, name, actual)
	})
}

func failureMessage(t *testing.T, n ipld.Node) string {
	t.Helper()
	mn, err := n.LookupByString("message")
	require.NoError(t, err)
	msg, err := mn.AsString()
	require.NoError(t, err)
	return msg
}

// storeEvent writes a clock event block to the bucket and returns its CID.
// parents controls whether the parents array is present.
func storeEvent(t *testing.T, bucket *blob.MemoryStore, parents bool) datamodel.Link {
	t.Helper()
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, err := nb.BeginMap(2)
	require.NoError(t, err)
	require.NoError(t, ma.AssembleKey().AssignString("data"))
	require.NoError(t, ma.AssembleValue().AssignLink(helpers.RandomCID()))
	if parents {
		require.NoError(t, ma.AssembleKey().AssignString("parents"))
		la, err := ma.AssembleValue().BeginList(0)
		require.NoError(t, err)
		require.NoError(t, la.Finish())
	}
	require.NoError(t, ma.Finish())

	var buf bytes.Buffer
	require.NoError(t, dagcbor.Encode(nb.Build(), &buf))

	pref := cid.Prefix{Version: 1, Codec: cid.DagCBOR, MhType: multihash.SHA2_256, MhLength: -1}
	c, err := pref.Sum(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, bucket.Put(t.Context(), c.String(), buf.Bytes()))
	return cidlink.Link{Cid: c}
}

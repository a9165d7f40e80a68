package delegations

import (
	"testing"

	"github.com/fireproof-storage/ucan-clock/stores/blob"
	"github.com/fireproof-storage/ucan-clock/stores/kv"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/testing/fixtures"
	"github.com/storacha/go-ucanto/testing/helpers"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/stretchr/testify/require"
)

func newDelegation(t *testing.T) delegation.Delegation {
	t.Helper()
	return helpers.Must(delegation.Delegate(
		fixtures.Alice,
		fixtures.Bob,
		[]ucan.Capability[ucan.NoCaveats]{
			ucan.NewCapability("clock/*", fixtures.Alice.DID().String(), ucan.NoCaveats{}),
		},
		delegation.WithNoExpiration(),
	))
}

func TestPutManyFind(t *testing.T) {
	store := helpers.Must(NewPersistentStore(blob.NewMemoryStore(), kv.NewMemoryStore()))

	d := newDelegation(t)
	require.NoError(t, store.PutMany(t.Context(), []delegation.Delegation{d}))

	found, err := store.Find(t.Context(), fixtures.Bob.DID())
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, d.Link().String(), found[0].Link().String())

	// other audiences see nothing
	found, err = store.Find(t.Context(), fixtures.Mallory.DID())
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestPutManyIdempotent(t *testing.T) {
	store := helpers.Must(NewPersistentStore(blob.NewMemoryStore(), kv.NewMemoryStore()))

	d := newDelegation(t)
	require.NoError(t, store.PutMany(t.Context(), []delegation.Delegation{d}))
	require.NoError(t, store.PutMany(t.Context(), []delegation.Delegation{d}, WithCause(helpers.RandomCID())))

	found, err := store.Find(t.Context(), fixtures.Bob.DID())
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestFindSkipsMissingArchive(t *testing.T) {
	bucket := blob.NewMemoryStore()
	index := kv.NewMemoryStore()
	store := helpers.Must(NewPersistentStore(bucket, index))

	d := newDelegation(t)
	// index a delegation whose archive was never written
	key := "delegation/" + fixtures.Bob.DID().String() + "/" + d.Link().String()
	require.NoError(t, index.Put(t.Context(), key, `{"issuer":"x","audience":"y"}`))

	found, err := store.Find(t.Context(), fixtures.Bob.DID())
	require.NoError(t, err)
	require.Empty(t, found)
}

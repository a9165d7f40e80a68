package delegations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fireproof-storage/ucan-clock/stores/blob"
	"github.com/fireproof-storage/ucan-clock/stores/kv"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/did"
)

const indexPrefix = "delegation/"

// record is the index entry stored in the KV under
// delegation/<audience>/<cid>.
type record struct {
	Issuer   string `json:"issuer"`
	Audience string `json:"audience"`
	Cause    string `json:"cause,omitempty"`
}

// PersistentStore keeps delegation archives in a blob bucket keyed by CID
// and an audience index in a KV store. Recently read delegations are held
// in an in-process LRU cache.
type PersistentStore struct {
	bucket blob.Store
	index  kv.Store
	cache  *lru.Cache[string, delegation.Delegation]
}

var _ Store = (*PersistentStore)(nil)

func NewPersistentStore(bucket blob.Store, index kv.Store) (*PersistentStore, error) {
	cache, err := lru.New[string, delegation.Delegation](256)
	if err != nil {
		return nil, fmt.Errorf("creating delegation cache: %w", err)
	}
	return &PersistentStore{bucket: bucket, index: index, cache: cache}, nil
}

func (s *PersistentStore) PutMany(ctx context.Context, dlgs []delegation.Delegation, opts ...PutOption) error {
	cfg := putConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	for _, d := range dlgs {
		archive, err := io.ReadAll(d.Archive())
		if err != nil {
			return fmt.Errorf("archiving delegation %s: %w", d.Link(), err)
		}
		if err := s.bucket.Put(ctx, d.Link().String(), archive); err != nil {
			return fmt.Errorf("storing delegation %s: %w", d.Link(), err)
		}
		rec := record{
			Issuer:   d.Issuer().DID().String(),
			Audience: d.Audience().DID().String(),
		}
		if cfg.cause != nil {
			rec.Cause = cfg.cause.String()
		}
		val, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding delegation record: %w", err)
		}
		key := indexPrefix + rec.Audience + "/" + d.Link().String()
		if err := s.index.Put(ctx, key, string(val)); err != nil {
			return fmt.Errorf("indexing delegation %s: %w", d.Link(), err)
		}
		s.cache.Add(d.Link().String(), d)
	}
	return nil
}

func (s *PersistentStore) Find(ctx context.Context, audience did.DID) ([]delegation.Delegation, error) {
	prefix := indexPrefix + audience.String() + "/"
	keys, err := s.index.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing delegations for %s: %w", audience, err)
	}
	var dlgs []delegation.Delegation
	for _, key := range keys {
		cid := strings.TrimPrefix(key, prefix)
		if d, ok := s.cache.Get(cid); ok {
			dlgs = append(dlgs, d)
			continue
		}
		archive, ok, err := s.bucket.Get(ctx, cid)
		if err != nil {
			return nil, fmt.Errorf("getting delegation %s: %w", cid, err)
		}
		if !ok {
			// The index may be ahead of the bucket. Skip rather than fail.
			continue
		}
		d, err := delegation.Extract(archive)
		if err != nil {
			return nil, fmt.Errorf("extracting delegation %s: %w", cid, err)
		}
		s.cache.Add(cid, d)
		dlgs = append(dlgs, d)
	}
	return dlgs, nil
}

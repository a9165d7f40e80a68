// Package agents archives the agent messages the service has handled, so
// that an invocation and its receipt can be looked up again later by task
// CID. The share confirmation flow relies on this to pick up the original
// authorize-share invocation when the emailed link is followed.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fireproof-storage/ucan-clock/stores/blob"
	"github.com/fireproof-storage/ucan-clock/stores/kv"
	"github.com/storacha/go-ucanto/core/car"
	"github.com/storacha/go-ucanto/core/dag/blockstore"
	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/message"
	"github.com/storacha/go-ucanto/core/receipt"
)

const (
	invocationPrefix = "invocation/"
	receiptPrefix    = "receipt/"
)

// record points a task at the archive holding it. Link is the block the
// lookup should materialize, which for receipts differs from the task CID.
type record struct {
	Root string `json:"root"`
	Link string `json:"link"`
}

// Store archives agent messages in a blob bucket keyed by message root and
// keeps task indexes in a KV store.
type Store struct {
	bucket blob.Store
	index  kv.Store
}

func NewStore(bucket blob.Store, index kv.Store) *Store {
	return &Store{bucket: bucket, index: index}
}

// Write archives the message and indexes every invocation and receipt in
// it by task CID.
func (s *Store) Write(ctx context.Context, msg message.AgentMessage) error {
	archive, err := io.ReadAll(car.Encode([]ipld.Link{msg.Root().Link()}, msg.Blocks()))
	if err != nil {
		return fmt.Errorf("encoding agent message: %w", err)
	}
	root := msg.Root().Link().String()
	if err := s.bucket.Put(ctx, root, archive); err != nil {
		return fmt.Errorf("storing agent message: %w", err)
	}

	br, err := blockstore.NewBlockReader(blockstore.WithBlocksIterator(msg.Blocks()))
	if err != nil {
		return fmt.Errorf("reading agent message blocks: %w", err)
	}

	for _, invlnk := range msg.Invocations() {
		if err := s.put(ctx, invocationPrefix+invlnk.String(), record{Root: root, Link: invlnk.String()}); err != nil {
			return err
		}
	}
	for _, rcptlnk := range msg.Receipts() {
		rcpt, err := receipt.NewAnyReceipt(rcptlnk, br)
		if err != nil {
			return fmt.Errorf("reading receipt %s: %w", rcptlnk, err)
		}
		task := rcpt.Ran().Link().String()
		if err := s.put(ctx, receiptPrefix+task, record{Root: root, Link: rcptlnk.String()}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) put(ctx context.Context, key string, rec record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding agent index record: %w", err)
	}
	if err := s.index.Put(ctx, key, string(val)); err != nil {
		return fmt.Errorf("indexing agent message: %w", err)
	}
	return nil
}

// GetInvocation returns the archived invocation for a task CID.
func (s *Store) GetInvocation(ctx context.Context, task ipld.Link) (invocation.Invocation, error) {
	br, rec, err := s.open(ctx, invocationPrefix+task.String())
	if err != nil {
		return nil, err
	}
	inv, err := invocation.NewInvocationView(task, br)
	if err != nil {
		return nil, fmt.Errorf("materializing invocation %s from %s: %w", task, rec.Root, err)
	}
	return inv, nil
}

// GetReceipt returns the archived receipt for a task CID.
func (s *Store) GetReceipt(ctx context.Context, task ipld.Link) (receipt.AnyReceipt, error) {
	br, rec, err := s.open(ctx, receiptPrefix+task.String())
	if err != nil {
		return nil, err
	}
	lnk, err := parseLink(rec.Link)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt link: %w", err)
	}
	rcpt, err := receipt.NewAnyReceipt(lnk, br)
	if err != nil {
		return nil, fmt.Errorf("materializing receipt for %s from %s: %w", task, rec.Root, err)
	}
	return rcpt, nil
}

func (s *Store) open(ctx context.Context, key string) (blockstore.BlockReader, record, error) {
	val, ok, err := s.index.Get(ctx, key)
	if err != nil {
		return nil, record{}, fmt.Errorf("getting agent index %s: %w", key, err)
	}
	if !ok {
		return nil, record{}, NewRecordNotFoundError(key)
	}
	var rec record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, record{}, fmt.Errorf("decoding agent index record: %w", err)
	}
	archive, ok, err := s.bucket.Get(ctx, rec.Root)
	if err != nil {
		return nil, record{}, fmt.Errorf("getting agent message %s: %w", rec.Root, err)
	}
	if !ok {
		return nil, record{}, NewRecordNotFoundError(key)
	}
	_, blocks, err := car.Decode(bytes.NewReader(archive))
	if err != nil {
		return nil, record{}, fmt.Errorf("decoding agent message %s: %w", rec.Root, err)
	}
	br, err := blockstore.NewBlockReader(blockstore.WithBlocksIterator(blocks))
	if err != nil {
		return nil, record{}, fmt.Errorf("reading agent message blocks: %w", err)
	}
	return br, rec, nil
}

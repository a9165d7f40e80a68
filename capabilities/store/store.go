// Package store defines capabilities for putting event blocks into and
// reading them back out of the service blob bucket.
package store

import (
	"fmt"

	ipldprime "github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/result/failure"
	"github.com/storacha/go-ucanto/core/schema"
	"github.com/storacha/go-ucanto/testing/helpers"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/storacha/go-ucanto/validator"
)

var storeTS = helpers.Must(ipldprime.LoadSchemaBytes([]byte(`
	type AddCaveats struct {
		link Link
		size Int
		origin optional Link
	}
	type AddOk struct {
		status String
		allocated Int
		link Link
		url String
	}
	type GetCaveats struct {
		link Link
	}
`)))

type AddCaveats struct {
	// Link is the CID of the CAR the client wants to upload.
	Link ipld.Link
	// Size is the size of the CAR in bytes.
	Size int64
	// Origin links the previous shard of a multi-shard upload.
	Origin ipld.Link
}

func (c AddCaveats) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&c, storeTS.TypeByName("AddCaveats"))
}

type AddOk struct {
	Status    string
	Allocated int64
	Link      ipld.Link
	// Url is a presigned PUT URL the client uploads the CAR to.
	Url string
}

func (o AddOk) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&o, storeTS.TypeByName("AddOk"))
}

type GetCaveats struct {
	Link ipld.Link
}

func (c GetCaveats) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&c, storeTS.TypeByName("GetCaveats"))
}

// GetOk is the raw bytes of the requested block.
type GetOk []byte

func (o GetOk) ToIPLD() (ipld.Node, error) {
	return basicnode.NewBytes(o), nil
}

var AddCaveatsReader = schema.Struct[AddCaveats](storeTS.TypeByName("AddCaveats"), nil)
var GetCaveatsReader = schema.Struct[GetCaveats](storeTS.TypeByName("GetCaveats"), nil)

func equalLink(claimed, delegated ipld.Link) failure.Failure {
	if delegated != nil && (claimed == nil || claimed.String() != delegated.String()) {
		return schema.NewSchemaError(fmt.Sprintf("link %s violates imposed %s constraint", claimed, delegated))
	}
	return nil
}

func addDerives(claimed, delegated ucan.Capability[AddCaveats]) failure.Failure {
	if err := validator.DefaultDerives(claimed, delegated); err != nil {
		return err
	}
	if err := equalLink(claimed.Nb().Link, delegated.Nb().Link); err != nil {
		return err
	}
	if delegated.Nb().Size > 0 && claimed.Nb().Size > delegated.Nb().Size {
		return schema.NewSchemaError(fmt.Sprintf("size %d violates imposed %d constraint", claimed.Nb().Size, delegated.Nb().Size))
	}
	return nil
}

func getDerives(claimed, delegated ucan.Capability[GetCaveats]) failure.Failure {
	if err := validator.DefaultDerives(claimed, delegated); err != nil {
		return err
	}
	return equalLink(claimed.Nb().Link, delegated.Nb().Link)
}

// Add allocates space for a CAR and yields a URL to upload it to.
var Add = validator.NewCapability(
	"store/add",
	schema.DIDString(),
	AddCaveatsReader,
	addDerives,
)

// Get reads a stored block by CID.
var Get = validator.NewCapability(
	"store/get",
	schema.DIDString(),
	GetCaveatsReader,
	getDerives,
)

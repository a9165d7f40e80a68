// Package clock defines the capabilities understood by the clock service.
// A clock is identified by its own did:key and maintains a single head
// pointer to the latest accepted event in a content addressed event log.
package clock

import (
	ipldprime "github.com/ipld/go-ipld-prime"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/schema"
	"github.com/storacha/go-ucanto/testing/helpers"
	"github.com/storacha/go-ucanto/validator"
)

var clockTS = helpers.Must(ipldprime.LoadSchemaBytes([]byte(`
	type ClockCaveats struct {}
	type AdvanceCaveats struct {
		event Link
	}
	type AdvanceOk struct {
		head String
	}
	type HeadCaveats struct {}
	type HeadOk struct {
		head optional String
	}
	type RegisterCaveats struct {
		proof Link
	}
	type RegisterOk struct {}
	type AuthorizeShareCaveats struct {
		iss String
		proof Link
		recipient String
	}
	type AuthorizeShareOk struct {
		url String
	}
	type ConfirmShareCaveats struct {
		cause Link
	}
	type ConfirmShareOk struct {}
	type ClaimShareCaveats struct {
		proof Link
		recipient String
	}
	type ClaimSharesCaveats struct {
		recipient String
	}
	type ClaimOk struct {
		delegations {String:Bytes}
	}
`)))

// ClockCaveats is the empty caveat set of the clock/* namespace grant.
type ClockCaveats struct{}

func (c ClockCaveats) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&c, clockTS.TypeByName("ClockCaveats"))
}

type AdvanceCaveats struct {
	// Event is the CID of the CAR encoded clock event to become the new head.
	Event ipld.Link
}

func (c AdvanceCaveats) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&c, clockTS.TypeByName("AdvanceCaveats"))
}

type AdvanceOk struct {
	Head string
}

func (o AdvanceOk) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&o, clockTS.TypeByName("AdvanceOk"))
}

type HeadCaveats struct{}

func (c HeadCaveats) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&c, clockTS.TypeByName("HeadCaveats"))
}

// HeadOk carries the current head CID, or nothing if the clock has never
// been advanced.
type HeadOk struct {
	Head *string
}

func (o HeadOk) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&o, clockTS.TypeByName("HeadOk"))
}

type RegisterCaveats struct {
	// Proof is the CID of the genesis delegation for the clock.
	Proof ipld.Link
}

func (c RegisterCaveats) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&c, clockTS.TypeByName("RegisterCaveats"))
}

type RegisterOk struct{}

func (o RegisterOk) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&o, clockTS.TypeByName("RegisterOk"))
}

type AuthorizeShareCaveats struct {
	// Iss is the did:mailto of the account sharing the clock.
	Iss string
	// Proof is the CID of the share delegation (sharer account to recipient
	// account).
	Proof ipld.Link
	// Recipient is the did:mailto of the account the clock is shared with.
	Recipient string
}

func (c AuthorizeShareCaveats) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&c, clockTS.TypeByName("AuthorizeShareCaveats"))
}

type AuthorizeShareOk struct {
	// Url is the confirmation URL emailed to the sharer.
	Url string
}

func (o AuthorizeShareOk) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&o, clockTS.TypeByName("AuthorizeShareOk"))
}

type ConfirmShareCaveats struct {
	// Cause links the authorize-share invocation this confirmation refers to.
	Cause ipld.Link
}

func (c ConfirmShareCaveats) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&c, clockTS.TypeByName("ConfirmShareCaveats"))
}

type ConfirmShareOk struct{}

func (o ConfirmShareOk) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&o, clockTS.TypeByName("ConfirmShareOk"))
}

type ClaimShareCaveats struct {
	// Proof is the CID of the share delegation being claimed.
	Proof ipld.Link
	// Recipient is the did:mailto the share was addressed to.
	Recipient string
}

func (c ClaimShareCaveats) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&c, clockTS.TypeByName("ClaimShareCaveats"))
}

type ClaimSharesCaveats struct {
	Recipient string
}

func (c ClaimSharesCaveats) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&c, clockTS.TypeByName("ClaimSharesCaveats"))
}

// ClaimOk maps delegation CIDs to their CAR encoded archives. A claim that
// has not been confirmed yet yields an empty map, not an error.
type ClaimOk struct {
	Delegations map[string][]byte
}

func (o ClaimOk) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&o, clockTS.TypeByName("ClaimOk"))
}

var AdvanceCaveatsReader = schema.Struct[AdvanceCaveats](clockTS.TypeByName("AdvanceCaveats"), nil)
var AuthorizeShareCaveatsReader = schema.Struct[AuthorizeShareCaveats](clockTS.TypeByName("AuthorizeShareCaveats"), nil)

// Clock is the top capability of the clock/ namespace. A delegation of
// clock/* grants every other clock capability on the same resource.
var Clock = validator.NewCapability(
	"clock/*",
	schema.DIDString(),
	schema.Struct[ClockCaveats](clockTS.TypeByName("ClockCaveats"), nil),
	validator.DefaultDerives,
)

// Advance adds an event to the clock, making it the new head.
var Advance = validator.NewCapability(
	"clock/advance",
	schema.DIDString(),
	AdvanceCaveatsReader,
	validator.DefaultDerives,
)

// Head reads the CID of the event at the head of the clock.
var Head = validator.NewCapability(
	"clock/head",
	schema.DIDString(),
	schema.Struct[HeadCaveats](clockTS.TypeByName("HeadCaveats"), nil),
	validator.DefaultDerives,
)

// Register records the genesis delegation of a clock with the service.
var Register = validator.NewCapability(
	"clock/register",
	schema.DIDString(),
	schema.Struct[RegisterCaveats](clockTS.TypeByName("RegisterCaveats"), nil),
	validator.DefaultDerives,
)

// AuthorizeShare starts the share hand-off: it stores the share delegation
// and triggers the email confirmation flow towards the sharer.
var AuthorizeShare = validator.NewCapability(
	"clock/authorize-share",
	schema.DIDString(),
	AuthorizeShareCaveatsReader,
	validator.DefaultDerives,
)

// ConfirmShare is self-issued by the service when the sharer follows the
// emailed confirmation link.
var ConfirmShare = validator.NewCapability(
	"clock/confirm-share",
	schema.DIDString(),
	schema.Struct[ConfirmShareCaveats](clockTS.TypeByName("ConfirmShareCaveats"), nil),
	validator.DefaultDerives,
)

// ClaimShare retrieves a confirmed share: the share delegation and the
// service attestation vouching for it, as a usable proof pair.
var ClaimShare = validator.NewCapability(
	"clock/claim-share",
	schema.DIDString(),
	schema.Struct[ClaimShareCaveats](clockTS.TypeByName("ClaimShareCaveats"), nil),
	validator.DefaultDerives,
)

// ClaimShares retrieves every confirmed share addressed to a recipient.
var ClaimShares = validator.NewCapability(
	"clock/claim-shares",
	schema.DIDString(),
	schema.Struct[ClaimSharesCaveats](clockTS.TypeByName("ClaimSharesCaveats"), nil),
	validator.DefaultDerives,
)

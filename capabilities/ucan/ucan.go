// Package ucan defines the ucan/attest capability the service issues to
// vouch for delegations whose issuer is a did:mailto account. An attestation
// is the service saying "I verified the email behind this delegation".
package ucan

import (
	"fmt"

	ipldprime "github.com/ipld/go-ipld-prime"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/result/failure"
	"github.com/storacha/go-ucanto/core/schema"
	"github.com/storacha/go-ucanto/testing/helpers"
	ucn "github.com/storacha/go-ucanto/ucan"
	"github.com/storacha/go-ucanto/validator"
)

var attestTS = helpers.Must(ipldprime.LoadSchemaBytes([]byte(`
	type AttestCaveats struct {
		proof Link
	}
`)))

type AttestCaveats struct {
	// Proof is the CID of the delegation being attested.
	Proof ipld.Link
}

func (c AttestCaveats) ToIPLD() (ipld.Node, error) {
	return ipld.WrapWithRecovery(&c, attestTS.TypeByName("AttestCaveats"))
}

var AttestCaveatsReader = schema.Struct[AttestCaveats](attestTS.TypeByName("AttestCaveats"), nil)

func attestDerives(claimed, delegated ucn.Capability[AttestCaveats]) failure.Failure {
	if err := validator.DefaultDerives(claimed, delegated); err != nil {
		return err
	}
	if delegated.Nb().Proof != nil {
		if claimed.Nb().Proof == nil || claimed.Nb().Proof.String() != delegated.Nb().Proof.String() {
			return schema.NewSchemaError(fmt.Sprintf("proof %s violates imposed %s constraint", claimed.Nb().Proof, delegated.Nb().Proof))
		}
	}
	return nil
}

var Attest = validator.NewCapability(
	"ucan/attest",
	schema.DIDString(),
	AttestCaveatsReader,
	attestDerives,
)

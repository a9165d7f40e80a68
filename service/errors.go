package service

import (
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/result/failure"
	fdm "github.com/storacha/go-ucanto/core/result/failure/datamodel"
)

// svcError is a named failure returned in receipts.
type svcError struct {
	name    string
	message string
}

var _ failure.IPLDBuilderFailure = (*svcError)(nil)

func (e svcError) Name() string {
	return e.name
}

func (e svcError) Error() string {
	return e.message
}

func (e svcError) ToIPLD() (ipld.Node, error) {
	name := e.name
	model := fdm.FailureModel{Name: &name, Message: e.message}
	return model.ToIPLD()
}

func NewEventNotFoundError() failure.IPLDBuilderFailure {
	return svcError{"EventNotFound", "Unable to locate event bytes in store. Was the event stored?"}
}

func NewInvalidEventError(message string) failure.IPLDBuilderFailure {
	return svcError{"InvalidEvent", message}
}

func NewProofMismatchError() failure.IPLDBuilderFailure {
	return svcError{"ProofMismatch", "Proof linked in capability does not match proof in invocation"}
}

func NewMissingLinkError() failure.IPLDBuilderFailure {
	return svcError{"MissingLink", "Expected a link to be present"}
}

func NewNotFoundError() failure.IPLDBuilderFailure {
	return svcError{"NotFound", "Item not found in store"}
}

func NewBadCauseError() failure.IPLDBuilderFailure {
	return svcError{"BadCause", "Unable to retrieve capabilities from cause"}
}

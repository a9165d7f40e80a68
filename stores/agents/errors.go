package agents

import (
	"fmt"

	"github.com/ipfs/go-cid"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/result/failure"
	fdm "github.com/storacha/go-ucanto/core/result/failure/datamodel"
)

func parseLink(s string) (ipld.Link, error) {
	c, err := cid.Parse(s)
	if err != nil {
		return nil, err
	}
	return cidlink.Link{Cid: c}, nil
}

// RecordNotFoundError indicates the task has no archived record.
type RecordNotFoundError struct {
	key string
}

var _ failure.IPLDBuilderFailure = (*RecordNotFoundError)(nil)

func NewRecordNotFoundError(key string) *RecordNotFoundError {
	return &RecordNotFoundError{key: key}
}

func (e *RecordNotFoundError) Name() string {
	return "RecordNotFound"
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.key)
}

func (e *RecordNotFoundError) ToIPLD() (ipld.Node, error) {
	name := e.Name()
	model := fdm.FailureModel{Name: &name, Message: e.Error()}
	return model.ToIPLD()
}

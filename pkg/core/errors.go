package core

import (
	"errors"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

// Predefined errors for common failure scenarios. The graph errors are
// re-exported so that callers of this package need not import graph to use
// errors.Is.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	ErrUnknownConcept       = graph.ErrUnknownConcept
	ErrDuplicateAssociation = graph.ErrDuplicateAssociation
	ErrEmbeddingUnavailable = graph.ErrEmbeddingUnavailable
	ErrConnection           = graph.ErrConnection
	ErrInvalidInput         = graph.ErrInvalidInput
	ErrIndexCorrupted       = graph.ErrIndexCorrupted
	ErrClosed               = graph.ErrClosed
)

// OpError wraps errors with operation context.
type OpError = graph.OpError

// NewOpError creates a new OpError wrapping err. It returns nil if err is
// nil, which allows:
//
//	return nil, NewOpError("NewClient", err)
func NewOpError(op string, err error) error {
	return graph.NewOpError(op, err)
}

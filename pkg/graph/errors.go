package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Predefined errors for the failure classes of the reasoning engine.
var (
	// ErrUnknownConcept indicates that an association or lookup referenced a
	// concept id that does not exist.
	ErrUnknownConcept = errors.New("unknown concept")

	// ErrDuplicateAssociation indicates that an association with the same
	// (source, target, type) already existed. By default the store merges
	// instead of failing and reports this as a warning.
	ErrDuplicateAssociation = errors.New("duplicate association")

	// ErrEmbeddingUnavailable indicates that the embedding collaborator failed
	// or timed out after the cache exhausted its retries.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrProtocol indicates a malformed or truncated frame on the wire.
	ErrProtocol = errors.New("protocol error")

	// ErrConnection indicates that the remote adapter could not establish or
	// keep a session. It is transient: the caller may retry reads.
	ErrConnection = errors.New("connection error")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIndexCorrupted indicates that the store detected an index that is
	// out of sync with its tables. It is never recoverable.
	ErrIndexCorrupted = errors.New("index consistency violation")

	// ErrClosed indicates that the component has been closed.
	ErrClosed = errors.New("closed")
)

// OpError wraps errors with operation context.
//
// Example:
//
//	err := &OpError{Op: "InsertAssociation", Err: ErrUnknownConcept}
//	// Error() returns: "conceptgraph: InsertAssociation: unknown concept"
type OpError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns "conceptgraph: <Op>: <Err>".
func (e *OpError) Error() string {
	return fmt.Sprintf("conceptgraph: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error so errors.Is and errors.As see through
// the operation context.
func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError creates a new OpError wrapping err. It returns nil if err is nil,
// which allows:
//
//	return NewOpError("Learn", err)
func NewOpError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// ItemFailure describes one failed entry of a batch.
type ItemFailure struct {
	// Index is the position of the item in the submitted batch.
	Index int

	// Content is the content of the failed item.
	Content string

	// Err is why it failed.
	Err error
}

// PartialBatchFailure reports which batch items failed while the rest
// succeeded. It is obtained from BatchResult.Failure and is never used as an
// all-or-nothing failure.
type PartialBatchFailure struct {
	// Succeeded is the number of items that produced a concept id.
	Succeeded int

	// Failures lists every failed item in index order.
	Failures []ItemFailure
}

// Error summarises the failures.
func (p *PartialBatchFailure) Error() string {
	parts := make([]string, 0, len(p.Failures))
	for _, f := range p.Failures {
		parts = append(parts, fmt.Sprintf("item %d: %v", f.Index, f.Err))
	}
	return fmt.Sprintf("partial batch failure: %d succeeded, %d failed (%s)",
		p.Succeeded, len(p.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual item errors to errors.Is and errors.As.
func (p *PartialBatchFailure) Unwrap() []error {
	errs := make([]error, 0, len(p.Failures))
	for _, f := range p.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// IsTransient reports whether err is worth retrying for an idempotent read.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection)
}

package protocol

import (
	"context"
	"errors"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

// Code is the status of a response or of one batch item.
type Code uint32

const (
	CodeOK Code = iota
	CodeUnknownConcept
	CodeDuplicateAssociation
	CodeEmbeddingUnavailable
	CodeProtocol
	CodeConnection
	CodeInvalidInput
	CodeIndexCorrupted
	CodeClosed
	CodeCanceled
	CodeDeadlineExceeded
	CodeInternal Code = 99
)

var codeErrors = []struct {
	code Code
	err  error
}{
	{CodeUnknownConcept, graph.ErrUnknownConcept},
	{CodeDuplicateAssociation, graph.ErrDuplicateAssociation},
	{CodeEmbeddingUnavailable, graph.ErrEmbeddingUnavailable},
	{CodeProtocol, graph.ErrProtocol},
	{CodeConnection, graph.ErrConnection},
	{CodeInvalidInput, graph.ErrInvalidInput},
	{CodeIndexCorrupted, graph.ErrIndexCorrupted},
	{CodeClosed, graph.ErrClosed},
	{CodeCanceled, context.Canceled},
	{CodeDeadlineExceeded, context.DeadlineExceeded},
}

// CodeOf maps err to the code of the first sentinel it wraps.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// StatusError is an error received from the other end of a connection. It
// unwraps to the sentinel matching its code, so errors.Is works across the
// wire.
type StatusError struct {
	Code    Code
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

func (e *StatusError) Unwrap() error {
	for _, ce := range codeErrors {
		if ce.code == e.Code {
			return ce.err
		}
	}
	return nil
}

// Err returns the error carried by code and message, or nil for CodeOK.
func (c Code) Err(message string) error {
	if c == CodeOK {
		return nil
	}
	return &StatusError{Code: c, Message: message}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

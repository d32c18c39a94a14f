package pipeline

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/docsearch/internal/reader"
)

// Kind classifies every failure the pipeline can surface. Each error maps to
// exactly one kind.
type Kind int

const (
	// KindUnexpected is anything not otherwise classified.
	KindUnexpected Kind = iota
	// KindDecode is an uploaded file that is not valid text.
	KindDecode
	// KindEmbedding is a failure of the embedding model call.
	KindEmbedding
	// KindStore is a failure of the vector repository.
	KindStore
	// KindInvalidRequest is a malformed request: no files, blank query,
	// bad paging parameters, or a size limit.
	KindInvalidRequest
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindEmbedding:
		return "embedding"
	case KindStore:
		return "store"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "unexpected"
	}
}

// Error is a classified pipeline failure. Message is safe to show to
// clients; Err keeps the underlying cause for logs and errors.Is.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error.
func NewError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func decodeError(op string, err *reader.DecodeError) *Error {
	return NewError(KindDecode, op, err.Error(), err)
}

func embeddingError(op string, err error) *Error {
	return NewError(KindEmbedding, op, fmt.Sprintf("Embedding error: %v", err), err)
}

func storeError(op string, err error) *Error {
	return NewError(KindStore, op, fmt.Sprintf("Database error: %v", err), err)
}

// Unexpected wraps an unclassified failure.
func Unexpected(op string, err error) *Error {
	return NewError(KindUnexpected, op, fmt.Sprintf("Server Error: %v", err), err)
}

// InvalidRequest reports a request the pipeline refuses to process.
func InvalidRequest(op, message string, err error) *Error {
	return NewError(KindInvalidRequest, op, message, err)
}

// KindOf returns the kind of err. A *reader.DecodeError anywhere in the
// chain is KindDecode, an oversize upload is KindInvalidRequest, and any
// other error that is not an *Error is KindUnexpected.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	var derr *reader.DecodeError
	if errors.As(err, &derr) {
		return KindDecode
	}
	if errors.Is(err, reader.ErrFileTooLarge) {
		return KindInvalidRequest
	}
	return KindUnexpected
}

// Message returns the client-facing message for err.
func Message(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Message
	}
	if KindOf(err) == KindUnexpected {
		return fmt.Sprintf("Server Error: %v", err)
	}
	return err.Error()
}

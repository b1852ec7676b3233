package memory

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers of the tool boundary.
type Kind string

const (
	KindValidation           Kind = "ValidationError"
	KindNotFound             Kind = "NotFoundError"
	KindAlreadyEnded         Kind = "AlreadyEndedError"
	KindEmbeddingUnavailable Kind = "EmbeddingUnavailable"
	KindIndexUnavailable     Kind = "IndexUnavailable"
	KindTimeout              Kind = "Timeout"
	KindInternal             Kind = "InternalError"
)

// Error is the structured error returned by every operation. Field and ID name
// the offending input so a caller can correct it without reading server logs.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	ID      string `json:"id,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Field != "" {
		msg += fmt.Sprintf(" (field: %s)", e.Field)
	}
	if e.ID != "" {
		msg += fmt.Sprintf(" (id: %s)", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports malformed or out-of-range input in field.
func Validation(field, format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf(format, args...),
		Field:   field,
		Hint:    "Fix the '" + field + "' argument and retry",
	}
}

// NotFound reports that entity (e.g. "session") with id does not exist.
func NotFound(entity, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", entity),
		ID:      id,
		Hint:    fmt.Sprintf("Check the %s id; list operations return valid ids", entity),
	}
}

// AlreadyEnded reports an attempt to end a session twice.
func AlreadyEnded(id string) *Error {
	return &Error{
		Kind:    KindAlreadyEnded,
		Message: "session has already ended",
		ID:      id,
		Hint:    "Start a new session with manage_session action=create; use action=update to change the summary",
	}
}

// EmbeddingUnavailable wraps a failure of the embedding path.
func EmbeddingUnavailable(err error) *Error {
	return &Error{
		Kind:    KindEmbeddingUnavailable,
		Message: "embedding unavailable",
		Hint:    "Records are kept without embeddings; run 'session-memory-mcp backfill' once the model is reachable",
		Err:     err,
	}
}

// IndexUnavailable wraps a failure of the vector index.
func IndexUnavailable(err error) *Error {
	return &Error{
		Kind:    KindIndexUnavailable,
		Message: "vector index unavailable",
		Hint:    "Results fall back to recency order",
		Err:     err,
	}
}

// Internal wraps a storage or other unexpected failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf returns the Kind carried by err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

package chat

import "errors"

// Wire-level error codes surfaced in acks and REST envelopes.
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeAlreadyMember   = "ALREADY_MEMBER"
	CodeServerError     = "SERVER_ERROR"
)

// Error is a coded error safe to surface to clients verbatim.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func ErrInvalidInput(message string) *Error    { return NewError(CodeInvalidInput, message) }
func ErrForbidden(message string) *Error       { return NewError(CodeForbidden, message) }
func ErrNotFound(message string) *Error        { return NewError(CodeNotFound, message) }
func ErrUnauthenticated(message string) *Error { return NewError(CodeUnauthenticated, message) }
func ErrAlreadyMember(message string) *Error   { return NewError(CodeAlreadyMember, message) }
func ErrServer(message string) *Error          { return NewError(CodeServerError, message) }

// CodeOf extracts the wire code of err. Anything that is not a *Error is an
// internal failure and must not leak detail to the client.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeServerError
}

// WireMessageOf returns the client-safe message for err.
func WireMessageOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Message
	}
	return "internal error"
}

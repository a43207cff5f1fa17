package errors

import (
	sterrors "errors"
)

// Reserved system error codes.
const (
	CodeNotFound       = "system.notFound"
	CodeMethodNotFound = "system.methodNotFound"
	CodeInvalidParams  = "system.invalidParams"
	CodeInvalidQuery   = "system.invalidQuery"
	CodeInternalError  = "system.internalError"
	CodeAccessDenied   = "system.accessDenied"
	CodeTimeout        = "system.timeout"
)

// Error is a structured error sent as the terminal reply of a request.
// Handlers may use any code; the system codes above are reserved.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches errors with the same code, so errors.Is(err, ErrNotFound) holds
// for any not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrNotFound       = &Error{Code: CodeNotFound, Message: "Not found"}
	ErrMethodNotFound = &Error{Code: CodeMethodNotFound, Message: "Method not found"}
	ErrInvalidParams  = &Error{Code: CodeInvalidParams, Message: "Invalid parameters"}
	ErrInvalidQuery   = &Error{Code: CodeInvalidQuery, Message: "Invalid query"}
	ErrInternalError  = &Error{Code: CodeInternalError, Message: "Internal error"}
	ErrAccessDenied   = &Error{Code: CodeAccessDenied, Message: "Access denied"}
	ErrTimeout        = &Error{Code: CodeTimeout, Message: "Request timeout"}
)

// InternalError wraps an unexpected error. The cause message is exposed so the
// gateway log shows something useful.
func InternalError(err error) *Error {
	return &Error{Code: CodeInternalError, Message: "Internal error: " + err.Error()}
}

// ToError converts any error into an *Error. Errors that already carry an
// *Error in their chain keep it, everything else becomes an internal error.
func ToError(err error) *Error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if sterrors.As(err, &rerr) {
		return rerr
	}
	return InternalError(err)
}

package jsonrpc

import (
	"errors"
	"fmt"
)

// Reserved JSON-RPC 2.0 codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Application codes, all inside the server error range.
const (
	UserRejected     = -32000
	RequestExpired   = -32001
	DuplicateRequest = -32002

	serverErrorMax = -32000
	serverErrorMin = -32099
)

var (
	ErrConfig               = errors.New("invalid configuration")
	ErrMethodNotSupported   = errors.New("JSON-RPC method not supported")
	ErrMissingMethodContext = errors.New("method argument required for validating result")
	ErrMissingContext       = errors.New("missing context, initialize the pending requests store first")
	ErrPersistence          = errors.New("persistence failure")
)

type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

var standardErrors = map[int]string{
	ParseError:       "Parse error",
	InvalidRequest:   "Invalid Request",
	MethodNotFound:   "Method not found",
	InvalidParams:    "Invalid params",
	InternalError:    "Internal error",
	UserRejected:     "User rejected request",
	RequestExpired:   "Request expired",
	DuplicateRequest: "Request with the same id is already pending",
}

// StandardError returns the error object for code, falling back to
// InternalError for unknown codes.
func StandardError(code int) Error {
	msg, ok := standardErrors[code]
	if !ok {
		return Error{Code: InternalError, Message: standardErrors[InternalError]}
	}
	return Error{Code: code, Message: msg}
}

func IsServerErrorCode(code int) bool {
	return code <= serverErrorMax && code >= serverErrorMin
}

func IsReservedErrorCode(code int) bool {
	switch code {
	case ParseError, InvalidRequest, MethodNotFound, InvalidParams, InternalError:
		return true
	}
	return false
}

func IsValidErrorCode(code int) bool {
	return IsServerErrorCode(code) || IsReservedErrorCode(code)
}

// ConfigErrorf formats a configuration error wrapping ErrConfig.
func ConfigErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// ToError converts any backend failure into an error object, keeping the code
// of upstream JSON-RPC errors.
func ToError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: InternalError, Message: err.Error()}
}

// Package status implements gRPC's RPC error model: a small status code
// enum plus an Error type that carries a code, a message, and an optional
// wrapped cause, mirroring the way the teacher's frame-level errors
// (goaway.go, rststream.go) carry a code and a human-readable reason.
package status

import "fmt"

// Code is a gRPC status code, as used in the grpc-status trailer.
type Code uint32

const (
	OK                 Code = 0
	Canceled           Code = 1
	Unknown            Code = 2
	InvalidArgument    Code = 3
	DeadlineExceeded   Code = 4
	NotFound           Code = 5
	AlreadyExists      Code = 6
	PermissionDenied   Code = 7
	ResourceExhausted  Code = 8
	FailedPrecondition Code = 9
	Aborted            Code = 10
	OutOfRange         Code = 11
	Unimplemented      Code = 12
	Internal           Code = 13
	Unavailable        Code = 14
	DataLoss           Code = 15
	Unauthenticated    Code = 16
)

var codeNames = map[Code]string{
	OK:                 "OK",
	Canceled:           "CANCELLED",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	DeadlineExceeded:   "DEADLINE_EXCEEDED",
	NotFound:           "NOT_FOUND",
	AlreadyExists:      "ALREADY_EXISTS",
	PermissionDenied:   "PERMISSION_DENIED",
	ResourceExhausted:  "RESOURCE_EXHAUSTED",
	FailedPrecondition: "FAILED_PRECONDITION",
	Aborted:            "ABORTED",
	OutOfRange:         "OUT_OF_RANGE",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
	Unavailable:        "UNAVAILABLE",
	DataLoss:           "DATA_LOSS",
	Unauthenticated:    "UNAUTHENTICATED",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", c)
}

// Error is the RPC-facing error type. It wraps an optional transport-level
// cause the way the teacher's WriteError wraps an I/O error in conn.go.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New builds an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error that carries cause as its Unwrap target.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpc error: code = %s desc = %s: %s", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("rpc error: code = %s desc = %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// FromHTTPStatus maps a non-gRPC HTTP response status to the gRPC status
// code a caller should observe, per the core's HTTP-to-gRPC mapping table.
func FromHTTPStatus(httpStatus int) Code {
	switch httpStatus {
	case 400:
		return Internal
	case 401:
		return Unauthenticated
	case 403:
		return PermissionDenied
	case 404:
		return Unimplemented
	case 418:
		return Unknown
	case 429, 502, 503, 504:
		return Unavailable
	default:
		switch {
		case httpStatus >= 500 && httpStatus < 600:
			return Unavailable
		default:
			return Unknown
		}
	}
}

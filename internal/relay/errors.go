// Package relay holds the error taxonomy shared by the upstream clients, the
// HTTP relay handlers and the client-side controller.
package relay

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies where a relay failure came from.
type Kind int

const (
	KindUnknown Kind = iota
	// KindBadRequest is missing or invalid caller input; no upstream call was made.
	KindBadRequest
	// KindUpstreamError means the upstream answered with a non-success status.
	KindUpstreamError
	// KindUpstreamUnreachable is a network-level failure reaching the upstream.
	KindUpstreamUnreachable
	// KindResponseShape means the upstream succeeded but a required field is absent.
	KindResponseShape
	// KindNoInput is raised client side when a generation is requested without files.
	KindNoInput
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUpstreamError:
		return "upstream_error"
	case KindUpstreamUnreachable:
		return "upstream_unreachable"
	case KindResponseShape:
		return "response_shape"
	case KindNoInput:
		return "no_input"
	default:
		return "unknown"
	}
}

// Error is a classified relay failure. Status carries the upstream status
// for KindUpstreamError and is ignored otherwise.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: msg}
}

func Upstream(status int, msg string) *Error {
	return &Error{Kind: KindUpstreamError, Status: status, Message: msg}
}

func Unreachable(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindUpstreamUnreachable, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func ResponseShape(msg string) *Error {
	return &Error{Kind: KindResponseShape, Message: msg}
}

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// StatusFor maps err to the HTTP status a relay answers with. unreachable is
// the status used for network failures, which differs per relay (500 for
// generation and conversion, 502 for the asset proxy).
func StatusFor(err error, unreachable int) int {
	var re *Error
	if !errors.As(err, &re) {
		return http.StatusInternalServerError
	}
	switch re.Kind {
	case KindBadRequest, KindNoInput:
		return http.StatusBadRequest
	case KindUpstreamError:
		if re.Status >= 400 && re.Status <= 599 {
			return re.Status
		}
		return http.StatusBadGateway
	case KindUpstreamUnreachable:
		return unreachable
	default:
		return http.StatusInternalServerError
	}
}

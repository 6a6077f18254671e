package apperrors

import (
  "errors"
  "fmt"
  "net/http"
)

// Kind classifies every failure the API can surface. The four Gateway
// kinds mirror the completion provider failure modes and always leave the
// user's message committed.
type Kind int

const (
  KindBadRequest Kind = iota
  KindUnauthorized
  KindForbidden
  KindNotFound
  KindConflict
  KindGatewayRateLimited
  KindGatewayTimeout
  KindGatewayInvalid
  KindGatewayUnavailable
  KindInternal
)

func (k Kind) String() string {
  switch k {
  case KindBadRequest:
    return "bad_request"
  case KindUnauthorized:
    return "unauthorized"
  case KindForbidden:
    return "forbidden"
  case KindNotFound:
    return "not_found"
  case KindConflict:
    return "conflict"
  case KindGatewayRateLimited:
    return "gateway_rate_limited"
  case KindGatewayTimeout:
    return "gateway_timeout"
  case KindGatewayInvalid:
    return "gateway_invalid"
  case KindGatewayUnavailable:
    return "gateway_unavailable"
  default:
    return "internal"
  }
}

func (k Kind) HTTPStatus() int {
  switch k {
  case KindBadRequest:
    return http.StatusBadRequest
  case KindUnauthorized:
    return http.StatusUnauthorized
  case KindForbidden:
    return http.StatusForbidden
  case KindNotFound:
    return http.StatusNotFound
  case KindConflict:
    return http.StatusConflict
  case KindGatewayRateLimited:
    return http.StatusTooManyRequests
  case KindGatewayTimeout:
    return http.StatusGatewayTimeout
  case KindGatewayInvalid, KindGatewayUnavailable:
    return http.StatusBadGateway
  default:
    return http.StatusInternalServerError
  }
}

// IsGateway reports whether the kind is one of the completion provider
// failure modes.
func (k Kind) IsGateway() bool {
  switch k {
  case KindGatewayRateLimited, KindGatewayTimeout, KindGatewayInvalid, KindGatewayUnavailable:
    return true
  }
  return false
}

type Error struct {
  Kind    Kind
  Message string
  Err     error
}

func (e *Error) Error() string {
  if e.Err != nil {
    return fmt.Sprintf("%s: %v", e.Message, e.Err)
  }
  return e.Message
}

func (e *Error) Unwrap() error {
  return e.Err
}

func New(kind Kind, message string) *Error {
  return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
  return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, falling back to KindInternal for
// anything that is not an *Error.
func KindOf(err error) Kind {
  var ae *Error
  if errors.As(err, &ae) {
    return ae.Kind
  }
  return KindInternal
}

// Is lets callers match on kind with errors.Is style checks.
func Is(err error, kind Kind) bool {
  var ae *Error
  if errors.As(err, &ae) {
    return ae.Kind == kind
  }
  return false
}

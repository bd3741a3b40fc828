package relay

import (
	"fmt"
	"strings"
)

// TransportError wraps a network-level failure: connection refused,
// timeout, malformed response body. It is distinct from an APIError so
// polling loops can swallow it and retry on the next tick.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a structured non-2xx response from the relay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay responded %d: %s", e.Status, e.Message)
}

// errorBody is the shape relay error responses take. Any of the fields
// may carry the message.
type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

func (b errorBody) message(status int) string {
	switch {
	case b.Error != "":
		return b.Error
	case b.Message != "":
		return b.Message
	case len(b.Errors) > 0:
		return strings.Join(b.Errors, ", ")
	default:
		return fmt.Sprintf("request failed with status %d", status)
	}
}

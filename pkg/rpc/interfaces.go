package rpc

import (
	"context"
	"errors"
	"io"
)

// Status codes carried as the first element of every reply.
const (
	StatusError   = -1
	StatusFailure = 0
	StatusSuccess = 1
)

// ErrMalformedResponse is returned when a reply does not have the
// [code, message, value] shape.
var ErrMalformedResponse = errors.New("malformed rpc response")

// Response is a decoded [code, message, value] reply.
type Response struct {
	Code    int
	Message string
	Value   any
}

// OK reports whether the reply carries StatusSuccess.
func (r Response) OK() bool {
	return r.Code == StatusSuccess
}

// Success builds a successful reply.
func Success(message string, value any) Response {
	return Response{Code: StatusSuccess, Message: message, Value: value}
}

// Failure builds a failed reply with a zero value.
func Failure(message string) Response {
	return Response{Code: StatusFailure, Message: message, Value: 0}
}

// Client issues calls against one remote endpoint.
type Client interface {
	io.Closer

	// URL returns the endpoint address this client talks to.
	URL() string

	// Call invokes method with the positional args and returns the decoded reply.
	// A non-nil error means the call did not complete; a completed call with a
	// failure status is reported through Response.Code.
	Call(ctx context.Context, method string, args ...any) (Response, error)
}

// Handler serves a single method. Returning an error aborts the call at the
// transport level; protocol-level failures should be returned as a Response.
type Handler func(ctx context.Context, args []any) (Response, error)

// Server is a request-serving endpoint.
type Server interface {
	io.Closer

	// Handle registers h for method. Registering the same method twice
	// replaces the earlier handler.
	Handle(method string, h Handler)

	// Start begins serving on port (0 picks a free one) and returns the URL
	// peers should use, built from hostname and the bound port.
	Start(hostname string, port int) (string, error)

	// URL returns the URL returned by Start, or "" before Start.
	URL() string
}

// Dialer creates a Client for the endpoint at url.
type Dialer func(url string) (Client, error)

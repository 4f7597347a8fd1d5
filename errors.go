package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error is an error implementation that provides the ability to specify three
// things to the relay error handler:
//   - The status code that should be used in the response.
//   - The client-facing message that should be sent. Typically this is a
//     sanitized error message, such as "Internal Server Error".
//   - Internal debugging detail including a log message and the underlying
//     error that should be included in the server logs.
//
// Note that Cause may be nil.
type Error struct {
	Code      int
	ClientMsg string
	LogMsg    string
	Cause     error
}

func (e Error) Error() string {
	return fmt.Sprintf("[%d] %s: %v", e.Code, e.LogMsg, e.Cause)
}

func (e Error) Unwrap() error { return e.Cause }

var (
	// Done is a sentinel error value that can be used to interrupt the
	// middleware chain without triggering the default error handling.
	// HandleErrors will not add it to the log and replies with an empty 204.
	Done = errors.New("<done>")

	// ErrMissingKind is returned when a Scope arrives without a Kind.
	ErrMissingKind = errors.New("relay: scope has no kind")
	// ErrNotADirectory is returned when a static file root isn't a directory.
	ErrNotADirectory = errors.New("relay: not a directory")
	// ErrDisconnect is returned by Inbound.Next when the client went away. A
	// socket handler may return it (or let it propagate); the socket engine
	// treats it as a normal end of the connection.
	ErrDisconnect = errors.New("relay: socket disconnected")
	// ErrSocketClosed is returned by Outbound.Send once a close event has
	// been sent.
	ErrSocketClosed = errors.New("relay: socket already closed")
	// ErrStreamConsumed is returned when a response stream is iterated twice.
	ErrStreamConsumed = errors.New("relay: stream already consumed")
	// ErrResponseAbandoned is returned to a response that is still sending
	// after the gateway gave up on it.
	ErrResponseAbandoned = errors.New("relay: response abandoned")
)

// ConnectivityError reports a transport that doesn't follow the event
// contract: malformed events, unexpected event types, missing payloads.
type ConnectivityError struct {
	Reason string
}

func (e *ConnectivityError) Error() string {
	return "relay: connectivity error: " + e.Reason
}

// TimeoutError reports that receiving the request body or transmitting the
// response took longer than allowed. It matches context.DeadlineExceeded.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("relay: %s timed out after %s", e.Op, e.Limit)
}

func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// LifecycleError wraps a failure of the user's start or stop hook.
type LifecycleError struct {
	Phase string // "startup" or "shutdown"
	Err   error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("relay: %s failed: %v", e.Phase, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// ToError converts any error into an Error. Errors that are not already of
// type Error become a 500 with the original error as the cause.
func ToError(err error) Error {
	var e Error
	if !errors.As(err, &e) {
		e = Error{LogMsg: "Failure", Cause: err}
	}
	if e.Code == 0 {
		e.Code = 500
	}
	return e
}

func handleErrorCommon(req *Request, err error) Error {
	e := ToError(err)
	if e.ClientMsg == "" {
		e.ClientMsg = http.StatusText(e.Code)
	}
	if e.LogMsg != "" && req.Log != nil {
		msg := fmt.Sprintf("(%d) %s", e.Code, e.LogMsg)
		if e.Cause != nil {
			msg += ": " + e.Cause.Error()
		}
		req.Log.Error = errors.New(msg)
	}
	return e
}

// HandleErrors is the default error handling middleware. If a later step
// fails with a relay.Error, it responds with the specified status code and
// client message. Otherwise, it responds with a 500. In both cases, the
// underlying error is added to the request log, if there is one. Socket
// connections are closed with CloseInternalError instead.
//
// Errors from HandleErrors itself never reach the gateway, so it should sit
// inside LogRequests but outside everything else.
func HandleErrors(next Link) Link {
	return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
		reply, err := next(ctx, h, req)
		if err == nil {
			return reply, nil
		} else if reply, ok := socketError(req, err); ok {
			return reply, nil
		} else if errors.Is(err, Done) {
			return &Response{Status: http.StatusNoContent}, nil
		}
		e := handleErrorCommon(req, err)
		return Text(e.ClientMsg, e.Code), nil
	}
}

// HandleErrorsJSON is identical to HandleErrors except that it responds to
// the client as JSON instead of plain text.
func HandleErrorsJSON(next Link) Link {
	return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
		reply, err := next(ctx, h, req)
		if err == nil {
			return reply, nil
		} else if reply, ok := socketError(req, err); ok {
			return reply, nil
		} else if errors.Is(err, Done) {
			return &Response{Status: http.StatusNoContent}, nil
		}
		e := handleErrorCommon(req, err)
		return JSON(map[string]string{"error": e.ClientMsg}, e.Code)
	}
}

// socketError closes a socket connection instead of answering it with an
// http response: normally for Done, with CloseInternalError otherwise.
func socketError(req *Request, err error) (Reply, bool) {
	if req.Kind != KindSocket {
		return nil, false
	}
	if errors.Is(err, Done) {
		return closeSocket(CloseNormal), true
	}
	handleErrorCommon(req, err)
	return closeSocket(CloseInternalError), true
}

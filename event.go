package relay

import (
	"context"
)

// Event is a single message exchanged with the transport driver. Type is the
// discriminant; the remaining fields are populated according to it.
type Event struct {
	Type string

	// response.start
	Status  int
	Headers []HeaderPair

	// request, response.body
	Body     []byte
	MoreBody bool

	// socket.receive, socket.send: exactly one of Text or Bytes is non-nil.
	Text  *string
	Bytes []byte

	// socket.close
	Code   int
	Reason string

	// socket.accept
	Subprotocol string

	// lifecycle.*.failed
	Message string
}

// Event types consumed and produced by the gateway.
const (
	EventRequest           = "request"
	EventRequestDisconnect = "request.disconnect"
	EventResponseStart     = "response.start"
	EventResponseBody      = "response.body"

	EventSocketConnect    = "socket.connect"
	EventSocketAccept     = "socket.accept"
	EventSocketReceive    = "socket.receive"
	EventSocketSend       = "socket.send"
	EventSocketClose      = "socket.close"
	EventSocketDisconnect = "socket.disconnect"

	EventStartup          = "lifecycle.startup"
	EventStartupComplete  = "lifecycle.startup.complete"
	EventStartupFailed    = "lifecycle.startup.failed"
	EventShutdown         = "lifecycle.shutdown"
	EventShutdownComplete = "lifecycle.shutdown.complete"
	EventShutdownFailed   = "lifecycle.shutdown.failed"
)

// CloseNormal is the close code sent when a socket handler finishes without
// closing the connection itself.
const CloseNormal = 1000

// CloseInternalError is the close code sent to a socket whose handler failed
// before taking over the connection.
const CloseInternalError = 1011

// closeSocket answers a socket connection with a single close event, which
// rejects the handshake if it hasn't been accepted yet.
func closeSocket(code int) RawHandler {
	return func(ctx context.Context, receive ReceiveFunc, send SendFunc) error {
		return send(ctx, SocketClose(code))
	}
}

// ReceiveFunc blocks until the transport delivers the next inbound event.
type ReceiveFunc func(ctx context.Context) (Event, error)

// SendFunc hands one outbound event to the transport.
type SendFunc func(ctx context.Context, ev Event) error

// Kind classifies a connection.
type Kind string

const (
	KindRequest   Kind = "request"
	KindSocket    Kind = "socket"
	KindLifecycle Kind = "lifecycle"
)

// Scope describes one incoming connection. It is created by the transport
// driver and is read-only to the gateway.
type Scope struct {
	// Kind must always be set; an empty Kind is a configuration error.
	Kind        Kind
	Path        string
	Method      string
	QueryString string
	Headers     []HeaderPair
	// Extras carries transport specific attributes (remote address, scheme,
	// adapter supplied path parameters, ...).
	Extras map[string]any
}

// Scope.Extras keys understood by the relay package.
const (
	// ExtraRemoteAddr holds the client's address as a string.
	ExtraRemoteAddr = "remote_addr"
	// ExtraArgs holds positional path parameters ([]string) extracted by a
	// router the gateway is mounted under. They seed Request.Args.
	ExtraArgs = "args"
)

// SocketSend builds a text message for a socket handler to yield.
func SocketSend(text string) Event {
	return Event{Type: EventSocketSend, Text: &text}
}

// SocketSendBytes builds a binary message for a socket handler to yield.
func SocketSendBytes(b []byte) Event {
	if b == nil {
		b = []byte{}
	}
	return Event{Type: EventSocketSend, Bytes: b}
}

// SocketClose builds a close message. A code of zero means CloseNormal.
func SocketClose(code int) Event {
	if code == 0 {
		code = CloseNormal
	}
	return Event{Type: EventSocketClose, Code: code}
}

// SocketAccept builds the handshake acceptance, optionally selecting a
// subprotocol.
func SocketAccept(subprotocol string) Event {
	return Event{Type: EventSocketAccept, Subprotocol: subprotocol}
}

// SocketReceiveText and SocketReceiveBytes build inbound socket events; they
// are used by transport drivers and tests.
func SocketReceiveText(text string) Event {
	return Event{Type: EventSocketReceive, Text: &text}
}

func SocketReceiveBytes(b []byte) Event {
	if b == nil {
		b = []byte{}
	}
	return Event{Type: EventSocketReceive, Bytes: b}
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultDrainTimeout is how long a finished socket waits for a trailing
// inbound event before running its disconnect callback.
const DefaultDrainTimeout = time.Second

// Message is one inbound socket payload.
type Message struct {
	Binary bool
	Data   []byte
}

func (m Message) String() string { return string(m.Data) }

// Inbound is the handler's view of the messages the client sends.
type Inbound struct {
	receive ReceiveFunc
}

// Next blocks until the client sends a message. It returns ErrDisconnect once
// the client has gone away, and a *ConnectivityError if the transport
// delivers something other than a message or a disconnect.
func (in *Inbound) Next(ctx context.Context) (Message, error) {
	ev, err := in.receive(ctx)
	if err != nil {
		return Message{}, err
	}
	switch ev.Type {
	case EventSocketReceive:
		if ev.Text != nil {
			return Message{Data: []byte(*ev.Text)}, nil
		} else if ev.Bytes != nil {
			return Message{Binary: true, Data: ev.Bytes}, nil
		}
		return Message{}, &ConnectivityError{Reason: "socket.receive carries neither text nor bytes"}
	case EventSocketDisconnect:
		return Message{}, ErrDisconnect
	}
	return Message{}, &ConnectivityError{Reason: fmt.Sprintf("unexpected socket event %q", ev.Type)}
}

// Outbound forwards the handler's messages to the client. It is not safe
// for concurrent use.
type Outbound struct {
	send   SendFunc
	closed bool
	stop   context.CancelFunc
}

// Send forwards ev. Once a close event has been sent the socket is finished:
// the handler's context is cancelled and further sends return
// ErrSocketClosed.
func (out *Outbound) Send(ctx context.Context, ev Event) error {
	if out.closed {
		return ErrSocketClosed
	}
	if ev.Type == EventSocketClose {
		out.closed = true
		defer out.stop()
	}
	return out.send(ctx, ev)
}

// SendText and SendBytes are shorthands for Send with SocketSend and
// SocketSendBytes.
func (out *Outbound) SendText(ctx context.Context, text string) error {
	return out.Send(ctx, SocketSend(text))
}

func (out *Outbound) SendBytes(ctx context.Context, b []byte) error {
	return out.Send(ctx, SocketSendBytes(b))
}

// Close sends a close event with the given code.
func (out *Outbound) Close(ctx context.Context, code int) error {
	return out.Send(ctx, SocketClose(code))
}

// Closed reports whether a close event has been sent.
func (out *Outbound) Closed() bool { return out.closed }

// SocketHandler serves an open socket: it consumes inbound messages from in
// and produces any number of outbound messages through out, in any
// interleaving. Returning without sending a close event closes the socket
// with CloseNormal. Returning ErrDisconnect (as reported by in.Next) ends the
// socket without a close event.
type SocketHandler func(ctx context.Context, req *Request, in *Inbound, out *Outbound) error

// SocketFunc is the single-result form of a socket handler: the returned
// event, if any, is the only message sent before the socket is closed. A nil
// event closes the socket right away.
type SocketFunc func(ctx context.Context, req *Request, in *Inbound) (*Event, error)

// Stream converts f into a SocketHandler.
func (f SocketFunc) Stream() SocketHandler {
	return func(ctx context.Context, req *Request, in *Inbound, out *Outbound) error {
		ev, err := f(ctx, req, in)
		if err != nil || ev == nil {
			return err
		}
		return out.Send(ctx, *ev)
	}
}

// SocketOption configures a socket handler.
type SocketOption func(*socketConfig)

type socketConfig struct {
	onConnect    func(ctx context.Context, req *Request) (Event, error)
	onDisconnect func(ctx context.Context, req *Request) error
	drainTimeout time.Duration
}

// OnConnect sets the handshake callback. It returns the event answering the
// connect: SocketAccept(...) opens the socket, SocketClose(...) rejects it.
// The default accepts every socket.
func OnConnect(fn func(ctx context.Context, req *Request) (Event, error)) SocketOption {
	return func(c *socketConfig) { c.onConnect = fn }
}

// OnDisconnect sets the callback that runs exactly once after an accepted
// socket has finished.
func OnDisconnect(fn func(ctx context.Context, req *Request) error) SocketOption {
	return func(c *socketConfig) { c.onDisconnect = fn }
}

// DrainTimeout overrides DefaultDrainTimeout. A zero duration skips draining.
func DrainTimeout(d time.Duration) SocketOption {
	return func(c *socketConfig) { c.drainTimeout = d }
}

func acceptAll(context.Context, *Request) (Event, error) { return SocketAccept(""), nil }

// Socket builds a route handler that serves socket connections with h.
//
// For example, an echo server:
//
//	echo := relay.Socket(func(ctx context.Context, req *relay.Request, in *relay.Inbound, out *relay.Outbound) error {
//	    for {
//	        msg, err := in.Next(ctx)
//	        if err != nil {
//	            return err
//	        }
//	        if err := out.SendText(ctx, msg.String()); err != nil {
//	            return err
//	        }
//	    }
//	})
func Socket(h SocketHandler, opts ...SocketOption) Handler {
	if h == nil {
		panic("relay.Socket requires a handler, got <nil>")
	}
	cfg := socketConfig{onConnect: acceptAll, drainTimeout: DefaultDrainTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(ctx context.Context, req *Request) (Reply, error) {
		return RawHandler(func(ctx context.Context, receive ReceiveFunc, send SendFunc) error {
			return cfg.serve(ctx, h, req, receive, send)
		}), nil
	}
}

// SocketOnce is Socket for the single-result handler form.
func SocketOnce(f SocketFunc, opts ...SocketOption) Handler {
	if f == nil {
		panic("relay.SocketOnce requires a handler, got <nil>")
	}
	return Socket(f.Stream(), opts...)
}

func (cfg socketConfig) serve(ctx context.Context, h SocketHandler, req *Request, receive ReceiveFunc, send SendFunc) error {
	if req.Kind != KindSocket {
		return &ConnectivityError{Reason: fmt.Sprintf("received a %s connection on a socket handler", req.Kind)}
	}

	// Handshake
	connect, err := receive(ctx)
	if err != nil {
		return err
	}
	if connect.Type != EventSocketConnect {
		return &ConnectivityError{Reason: fmt.Sprintf("first socket event was %q, not %q", connect.Type, EventSocketConnect)}
	}
	answer, err := cfg.onConnect(ctx, req)
	if err != nil {
		return err
	}
	if err := send(ctx, answer); err != nil {
		return err
	}
	if answer.Type == EventSocketClose {
		return nil
	}

	// Open
	if err := runSocketHandler(ctx, h, req, receive, send); err != nil {
		return err
	}

	// Draining: a timeout here is the common case, and a trailing event or
	// receive error carries no information anymore.
	if cfg.drainTimeout > 0 {
		_ = withTimeout(ctx, "draining the socket", cfg.drainTimeout, func(ctx context.Context) error {
			_, err := receive(ctx)
			return err
		})
	}

	if cfg.onDisconnect != nil {
		return cfg.onDisconnect(ctx, req)
	}
	return nil
}

func runSocketHandler(ctx context.Context, h SocketHandler, req *Request, receive ReceiveFunc, send SendFunc) error {
	hctx, stop := context.WithCancel(ctx)
	defer stop()
	out := &Outbound{send: send, stop: stop}
	err := h(hctx, req, &Inbound{receive: receive}, out)

	switch {
	case errors.Is(err, ErrDisconnect):
		return nil
	case out.closed && (errors.Is(err, ErrSocketClosed) || errors.Is(err, context.Canceled)):
		return nil
	case err != nil:
		return err
	case !out.closed:
		return send(ctx, SocketClose(CloseNormal))
	}
	return nil
}

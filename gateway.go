package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/augustoroman/relay/chain"
)

// Default limits used when Options leaves them unset.
const (
	DefaultResponseTimeout = 30 * time.Second
	DefaultReceiveTimeout  = 15 * time.Second
)

// Options configures a Gateway. The zero value is usable.
type Options struct {
	// ResponseTimeout bounds the transmission of a normalized response,
	// buffered or streamed, in aggregate. Zero means
	// DefaultResponseTimeout; a negative value disables the limit.
	ResponseTimeout time.Duration
	// ReceiveTimeout bounds the consumption of a request body. Zero means
	// DefaultReceiveTimeout; a negative value disables the limit.
	ReceiveTimeout time.Duration

	// OnStart runs when the transport reports startup. The returned
	// configuration is handed to every later connection as Request.Config.
	OnStart func(ctx context.Context, scope Scope) (map[string]any, error)
	// OnStop runs when the transport reports shutdown.
	OnStop func(ctx context.Context, scope Scope) error

	// Logger receives the gateway diagnostics. Defaults to zap.NewNop().
	Logger *zap.Logger
	// Metrics, if not nil, is updated for every connection.
	Metrics *Metrics
}

// Gateway adapts transport connections to a Handler. One Gateway owns one
// lifecycle gate; independent gateways can coexist in a process.
type Gateway struct {
	handler Handler
	opts    Options
	log     *zap.Logger
	gate    *lifecycleGate
}

// New builds a Gateway that dispatches request and socket connections to
// handler.
func New(handler Handler, opts Options) *Gateway {
	if handler == nil {
		panic("relay.New requires a handler, got <nil>")
	}
	if opts.ResponseTimeout == 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.ReceiveTimeout == 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Gateway{
		handler: chain.Recover(handler),
		opts:    opts,
		log:     opts.Logger,
		gate:    newLifecycleGate(),
	}
}

// Accept classifies the connection described by scope and returns the
// function that serves it once the transport calls it with the connection's
// receive and send functions.
//
// A lifecycle scope (re)initializes the startup gate. Request and socket
// scopes that arrive before startup completes wait for it. Scopes of any
// other kind are ignored. A scope without a kind is an error.
func (g *Gateway) Accept(scope Scope) (RawHandler, error) {
	serve, err := g.dispatch(scope)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, receive ReceiveFunc, send SendFunc) error {
		_, err := serve(ctx, receive, send)
		return err
	}, nil
}

// Serve accepts and serves one connection, returning the Reply the handler
// produced so it can be inspected. Lifecycle and ignored connections return
// a nil Reply. It is meant for tests and for drivers that want to inspect
// the outcome.
func (g *Gateway) Serve(ctx context.Context, scope Scope, receive ReceiveFunc, send SendFunc) (Reply, error) {
	serve, err := g.dispatch(scope)
	if err != nil {
		return nil, err
	}
	return serve(ctx, receive, send)
}

type serveFunc func(ctx context.Context, receive ReceiveFunc, send SendFunc) (Reply, error)

func (g *Gateway) dispatch(scope Scope) (serveFunc, error) {
	switch scope.Kind {
	case "":
		return nil, ErrMissingKind

	case KindLifecycle:
		g.gate.initialize()
		g.opts.Metrics.setStartupComplete(false)
		return g.measure(scope.Kind, func(ctx context.Context, receive ReceiveFunc, send SendFunc) (Reply, error) {
			return nil, g.lifecycle(ctx, scope, receive, send)
		}), nil

	case KindRequest, KindSocket:
		if config, ready := g.gate.current(); ready {
			return g.measure(scope.Kind, func(ctx context.Context, receive ReceiveFunc, send SendFunc) (Reply, error) {
				return g.handle(ctx, scope, config, receive, send)
			}), nil
		}
		g.log.Warn("connection accepted before the lifecycle startup completed; waiting for it",
			zap.String("kind", string(scope.Kind)),
			zap.String("path", scope.Path))
		return g.measure(scope.Kind, func(ctx context.Context, receive ReceiveFunc, send SendFunc) (Reply, error) {
			config, err := g.gate.wait(ctx)
			if err != nil {
				return nil, err
			}
			return g.handle(ctx, scope, config, receive, send)
		}), nil

	default:
		g.log.Warn("unsupported connection kind; ignoring connection",
			zap.String("kind", string(scope.Kind)))
		return func(context.Context, ReceiveFunc, SendFunc) (Reply, error) { return nil, nil }, nil
	}
}

// measure wraps serve with metrics and failure diagnostics.
func (g *Gateway) measure(kind Kind, serve serveFunc) serveFunc {
	return func(ctx context.Context, receive ReceiveFunc, send SendFunc) (Reply, error) {
		start := g.opts.Metrics.connectionStarted(kind)
		counted := func(ctx context.Context, ev Event) error {
			g.opts.Metrics.sent(ev.Type)
			return send(ctx, ev)
		}
		reply, err := serve(ctx, receive, counted)
		reason := failureReason(err)
		g.opts.Metrics.connectionDone(kind, start, reason)
		if err != nil {
			g.log.Warn("connection failed",
				zap.String("kind", string(kind)),
				zap.String("reason", reason),
				zap.Error(err))
		}
		return reply, err
	}
}

func failureReason(err error) string {
	var (
		timeout      *TimeoutError
		connectivity *ConnectivityError
		lifecycle    *LifecycleError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &connectivity), errors.Is(err, ErrDisconnect):
		return "connectivity"
	case errors.As(err, &lifecycle):
		return "lifecycle"
	}
	return "other"
}

// handle serves one request or socket connection.
func (g *Gateway) handle(ctx context.Context, scope Scope, config map[string]any, receive ReceiveFunc, send SendFunc) (Reply, error) {
	headers, err := FoldHeaders(scope.Headers)
	if err != nil {
		return nil, err
	}
	req := &Request{
		Kind:        scope.Kind,
		Path:        scope.Path,
		Method:      scope.Method,
		QueryString: scope.QueryString,
		Extras:      scope.Extras,
		Headers:     headers,
		HeadersList: scope.Headers,
		Config:      config,
	}
	if args, ok := scope.Extras[ExtraArgs].([]string); ok {
		req.Args = args
	}
	if scope.Kind == KindSocket {
		req.Method = "WS"
		req.Body = []byte{}
	} else {
		var body []byte
		err := withTimeout(ctx, "receiving the request body", g.opts.ReceiveTimeout, func(ctx context.Context) error {
			var err error
			body, err = consumeBody(ctx, receive)
			return err
		})
		if err != nil {
			return nil, err
		}
		req.Body = body
	}

	reply, err := g.handler(ctx, req)
	if err != nil {
		return nil, err
	}
	switch r := reply.(type) {
	case RawHandler:
		return r, r(ctx, receive, send)
	case *Response:
		g.opts.Metrics.response(r.status())
		out := &sealedSend{next: send}
		err := withTimeout(ctx, "sending the response", g.opts.ResponseTimeout, func(ctx context.Context) error {
			return transmit(ctx, out.send, r)
		})
		out.seal()
		return r, err
	}
	return nil, fmt.Errorf("relay: handler for %s %s returned no reply", req.Method, req.Path)
}

// consumeBody reads request events until one says no more body follows.
func consumeBody(ctx context.Context, receive ReceiveFunc) ([]byte, error) {
	var body []byte
	for {
		ev, err := receive(ctx)
		if err != nil {
			return nil, err
		}
		switch ev.Type {
		case EventRequest:
		case EventRequestDisconnect:
			return nil, ErrDisconnect
		default:
			return nil, &ConnectivityError{Reason: fmt.Sprintf("unexpected event %q while receiving the request body", ev.Type)}
		}
		body = append(body, ev.Body...)
		if !ev.MoreBody {
			return body, nil
		}
	}
}

func (r *Response) status() int {
	if r.Status == 0 {
		return 200
	}
	return r.Status
}

// transmit sends a response as a start event followed by either one body
// event carrying the whole buffered body, or one event per stream chunk and
// a final empty one.
func transmit(ctx context.Context, send SendFunc, resp *Response) error {
	if resp.Stream != nil && len(resp.Body) > 0 {
		return errors.New("relay: response has both a body and a stream")
	}
	resp.serializeCookies()
	headers, err := SerializeHeaders(resp.Headers, resp.SetCookies)
	if err != nil {
		return err
	}
	start := Event{Type: EventResponseStart, Status: resp.status(), Headers: headers}
	if err := send(ctx, start); err != nil {
		return err
	}
	if resp.Stream == nil {
		return send(ctx, Event{Type: EventResponseBody, Body: resp.Body})
	}
	err = resp.Stream.Each(ctx, func(chunk []byte) error {
		return send(ctx, Event{Type: EventResponseBody, Body: chunk, MoreBody: true})
	})
	if err != nil {
		return err
	}
	return send(ctx, Event{Type: EventResponseBody})
}

// sealedSend forwards events to the transport until it is sealed. A stream
// that outlives its response timeout keeps running in the background, and
// nothing it produces may reach the transport after Serve returns.
type sealedSend struct {
	mu     sync.Mutex
	sealed bool
	next   SendFunc
}

func (s *sealedSend) send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrResponseAbandoned
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.next(ctx, ev)
}

// seal waits for an in-flight send and refuses all later ones.
func (s *sealedSend) seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

// lifecycle runs the startup/shutdown handshake until shutdown completes.
func (g *Gateway) lifecycle(ctx context.Context, scope Scope, receive ReceiveFunc, send SendFunc) error {
	for {
		ev, err := receive(ctx)
		if err != nil {
			return err
		}
		switch ev.Type {
		case EventStartup:
			if err := g.startup(ctx, scope, send); err != nil {
				return err
			}
		case EventShutdown:
			return g.shutdown(ctx, scope, send)
		default:
			g.log.Debug("ignoring lifecycle event", zap.String("type", ev.Type))
		}
	}
}

func (g *Gateway) startup(ctx context.Context, scope Scope, send SendFunc) (err error) {
	var config map[string]any
	// The gate is released even when startup fails so no connection waits
	// forever.
	defer func() {
		g.gate.complete(config)
		g.opts.Metrics.setStartupComplete(true)
	}()

	if g.opts.OnStart != nil {
		config, err = callHook(func() (map[string]any, error) { return g.opts.OnStart(ctx, scope) })
	}
	if err != nil {
		config = nil
		g.log.Error("startup failed", zap.Error(err))
		if serr := send(ctx, Event{Type: EventStartupFailed, Message: err.Error()}); serr != nil {
			g.log.Warn("could not report the startup failure", zap.Error(serr))
		}
		return &LifecycleError{Phase: "startup", Err: err}
	}
	return send(ctx, Event{Type: EventStartupComplete})
}

func (g *Gateway) shutdown(ctx context.Context, scope Scope, send SendFunc) error {
	var err error
	if g.opts.OnStop != nil {
		_, err = callHook(func() (map[string]any, error) { return nil, g.opts.OnStop(ctx, scope) })
	}
	if err != nil {
		g.log.Error("shutdown failed", zap.Error(err))
		if serr := send(ctx, Event{Type: EventShutdownFailed, Message: err.Error()}); serr != nil {
			g.log.Warn("could not report the shutdown failure", zap.Error(serr))
		}
		return &LifecycleError{Phase: "shutdown", Err: err}
	}
	return send(ctx, Event{Type: EventShutdownComplete})
}

// callHook runs a user lifecycle hook, converting a panic into an error.
func callHook(fn func() (map[string]any, error)) (map[string]any, error) {
	return chain.Recover(func(context.Context, struct{}) (map[string]any, error) {
		return fn()
	})(context.Background(), struct{}{})
}

// Package httpdriver serves a relay.Gateway over net/http. Plain requests
// become request connections; websocket upgrade requests become socket
// connections served with gorilla/websocket.
//
// A minimal server:
//
//	gw := relay.New(app, relay.Options{})
//	d := httpdriver.New(gw)
//	if err := d.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Stop(ctx)
//	log.Fatal(http.ListenAndServe(":8080", d))
package httpdriver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/augustoroman/relay"
)

// DefaultChunkSize is the size of the request events the request body is
// split into.
const DefaultChunkSize = 64 << 10

// Driver is an http.Handler that feeds HTTP requests to a relay.Gateway.
type Driver struct {
	gw        *relay.Gateway
	log       *zap.Logger
	upgrader  websocket.Upgrader
	chunkSize int

	life *lifecycleConn
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger used for connection failures.
func WithLogger(log *zap.Logger) Option {
	return func(d *Driver) { d.log = log }
}

// WithUpgrader sets the websocket upgrader. Its Subprotocols field is
// ignored: the subprotocol is the one the socket handler accepts with.
func WithUpgrader(u websocket.Upgrader) Option {
	return func(d *Driver) { d.upgrader = u }
}

// WithChunkSize sets the size of the request events the body is split into.
func WithChunkSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// New builds a Driver for gw.
func New(gw *relay.Gateway, opts ...Option) *Driver {
	d := &Driver{gw: gw, log: zap.NewNop(), chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(d)
	}
	d.upgrader.Subprotocols = nil
	return d
}

type extrasKey struct{}

// WithExtras returns a copy of r that carries extras into the Scope of the
// connection it starts. Routers the driver is mounted under use it to pass
// path parameters (see relay.ExtraArgs).
func WithExtras(r *http.Request, extras map[string]any) *http.Request {
	merged := map[string]any{}
	if prev, ok := r.Context().Value(extrasKey{}).(map[string]any); ok {
		for k, v := range prev {
			merged[k] = v
		}
	}
	for k, v := range extras {
		merged[k] = v
	}
	return r.WithContext(context.WithValue(r.Context(), extrasKey{}, merged))
}

// scope describes r as a connection of the given kind.
func scope(kind relay.Kind, r *http.Request) relay.Scope {
	headers := make([]relay.HeaderPair, 0, len(r.Header)+1)
	if r.Host != "" {
		headers = append(headers, relay.Pair("host", r.Host))
	}
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range r.Header[name] {
			headers = append(headers, relay.Pair(strings.ToLower(name), v))
		}
	}
	extras := map[string]any{relay.ExtraRemoteAddr: r.RemoteAddr}
	if more, ok := r.Context().Value(extrasKey{}).(map[string]any); ok {
		for k, v := range more {
			extras[k] = v
		}
	}
	if r.TLS != nil {
		extras["scheme"] = "https"
	} else {
		extras["scheme"] = "http"
	}
	return relay.Scope{
		Kind:        kind,
		Path:        r.URL.Path,
		Method:      r.Method,
		QueryString: r.URL.RawQuery,
		Headers:     headers,
		Extras:      extras,
	}
}

func (d *Driver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		d.serveSocket(w, r)
		return
	}
	d.serveRequest(w, r)
}

func (d *Driver) serveRequest(w http.ResponseWriter, r *http.Request) {
	serve, err := d.gw.Accept(scope(relay.KindRequest, r))
	if err != nil {
		d.log.Error("cannot accept request", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	rw := &responseWriter{ResponseWriter: w}
	send := func(ctx context.Context, ev relay.Event) error {
		switch ev.Type {
		case relay.EventResponseStart:
			return rw.start(ev)
		case relay.EventResponseBody:
			return rw.body(ev)
		}
		return &relay.ConnectivityError{Reason: "unexpected " + ev.Type + " event on a request"}
	}

	err = serve(r.Context(), d.bodyReceiver(r), send)
	if err == nil {
		return
	}
	d.log.Warn("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", rw.Code),
		zap.Error(err))
	if rw.Code == 0 {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, http.StatusText(status), status)
	}
}

// bodyReceiver delivers the request body as request events of up to
// chunkSize bytes. Once the body is consumed, it reports a disconnect when
// the client goes away.
func (d *Driver) bodyReceiver(r *http.Request) relay.ReceiveFunc {
	buf := make([]byte, d.chunkSize)
	done := false
	return func(ctx context.Context) (relay.Event, error) {
		if done {
			select {
			case <-r.Context().Done():
				return relay.Event{Type: relay.EventRequestDisconnect}, nil
			case <-ctx.Done():
				return relay.Event{}, ctx.Err()
			}
		}
		if r.Body == nil {
			done = true
			return relay.Event{Type: relay.EventRequest}, nil
		}
		n, err := io.ReadFull(r.Body, buf)
		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			done = true
		case err != nil:
			done = true
			return relay.Event{Type: relay.EventRequestDisconnect}, nil
		}
		return relay.Event{
			Type:     relay.EventRequest,
			Body:     bytes.Clone(buf[:n]),
			MoreBody: !done,
		}, nil
	}
}

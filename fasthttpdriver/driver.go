// Package fasthttpdriver serves the request connections of a relay.Gateway
// with fasthttp. Sockets are not supported; use httpdriver for those.
//
//	d := fasthttpdriver.New(gw, logger)
//	log.Fatal(fasthttp.ListenAndServe(":8080", d.Handler))
package fasthttpdriver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/augustoroman/relay"
)

var errClientGone = errors.New("fasthttpdriver: client went away")

// Driver adapts fasthttp requests to a relay.Gateway.
type Driver struct {
	gw  *relay.Gateway
	log *zap.Logger
}

// New builds a Driver for gw. A nil log discards diagnostics.
func New(gw *relay.Gateway, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{gw: gw, log: log}
}

func scope(ctx *fasthttp.RequestCtx) relay.Scope {
	var headers []relay.HeaderPair
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		headers = append(headers, relay.Pair(strings.ToLower(string(k)), string(v)))
	})
	return relay.Scope{
		Kind:        relay.KindRequest,
		Path:        string(ctx.Path()),
		Method:      string(ctx.Method()),
		QueryString: string(ctx.URI().QueryString()),
		Headers:     headers,
		Extras: map[string]any{
			relay.ExtraRemoteAddr: ctx.RemoteAddr().String(),
			"scheme":              string(ctx.URI().Scheme()),
		},
	}
}

// Handler is the fasthttp.RequestHandler serving one request.
//
// The gateway runs in its own goroutine since fasthttp can only stream a
// body after the handler returns: a buffered response is written into ctx
// directly, while a streamed one hands the rest of the connection over to a
// body stream writer.
func (d *Driver) Handler(ctx *fasthttp.RequestCtx) {
	serve, err := d.gw.Accept(scope(ctx))
	if err != nil {
		d.log.Error("cannot accept request", zap.ByteString("path", ctx.Path()), zap.Error(err))
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
		return
	}

	// RequestCtx must not be used once Handler returns, so the gateway gets
	// its own context.
	cctx, cancel := context.WithCancel(context.Background())
	events := make(chan relay.Event)
	finished := make(chan error, 1)
	gone := make(chan struct{})

	body := bytes.Clone(ctx.PostBody())
	bodySent := false
	receive := func(rctx context.Context) (relay.Event, error) {
		if !bodySent {
			bodySent = true
			return relay.Event{Type: relay.EventRequest, Body: body}, nil
		}
		select {
		case <-rctx.Done():
			return relay.Event{Type: relay.EventRequestDisconnect}, nil
		case <-gone:
			return relay.Event{Type: relay.EventRequestDisconnect}, nil
		}
	}
	send := func(sctx context.Context, ev relay.Event) error {
		select {
		case events <- ev:
			return nil
		case <-gone:
			return errClientGone
		case <-sctx.Done():
			return sctx.Err()
		}
	}
	go func() { finished <- serve(cctx, receive, send) }()

	path := string(ctx.Path())
	started := false
	for {
		select {
		case err := <-finished:
			close(gone)
			cancel()
			if err != nil {
				d.log.Warn("request failed", zap.String("path", path), zap.Error(err))
				if !started {
					ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
				}
			}
			return

		case ev := <-events:
			switch {
			case ev.Type == relay.EventResponseStart && !started:
				started = true
				for _, p := range ev.Headers {
					setHeader(&ctx.Response.Header, string(p.Name), string(p.Value))
				}
				ctx.SetStatusCode(ev.Status)
			case ev.Type == relay.EventResponseBody && started && !ev.MoreBody:
				ctx.Write(ev.Body)
			case ev.Type == relay.EventResponseBody && started:
				first := ev.Body
				ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
					defer cancel()
					defer close(gone)
					d.stream(w, path, first, events, finished)
				})
				return
			default:
				close(gone)
				cancel()
				d.log.Warn("request failed", zap.String("path", path),
					zap.Error(&relay.ConnectivityError{Reason: "unexpected " + ev.Type + " event"}))
				if !started {
					ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
				}
				return
			}
		}
	}
}

// stream writes the chunks of a streamed response, flushing each one, until
// the final chunk or the first write error.
func (d *Driver) stream(w *bufio.Writer, path string, first []byte, events <-chan relay.Event, finished <-chan error) {
	chunk := first
	for {
		if _, err := w.Write(chunk); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
		select {
		case ev := <-events:
			if ev.Type != relay.EventResponseBody {
				d.log.Warn("unexpected event while streaming", zap.String("path", path), zap.String("type", ev.Type))
				return
			}
			if !ev.MoreBody {
				w.Write(ev.Body)
				w.Flush()
				return
			}
			chunk = ev.Body
		case err := <-finished:
			if err != nil {
				d.log.Warn("request failed while streaming", zap.String("path", path), zap.Error(err))
			}
			return
		}
	}
}

// setHeader adds a response header, routing the ones fasthttp tracks
// separately through their dedicated setters.
func setHeader(h *fasthttp.ResponseHeader, name, value string) {
	switch strings.ToLower(name) {
	case "content-type":
		h.SetContentType(value)
	case "content-length":
		// fasthttp computes it.
	default:
		h.Add(name, value)
	}
}

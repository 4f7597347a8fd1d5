package fasthttpdriver

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap/zaptest"

	"github.com/augustoroman/relay"
)

func newDriver(t *testing.T, h relay.Handler) *Driver {
	t.Helper()
	return New(relay.New(h, relay.Options{}), zaptest.NewLogger(t))
}

func newCtx(method, uri, body string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	req.Header.Set("X-Fruit", "fig")
	req.SetBodyString(body)

	var ctx fasthttp.RequestCtx
	ctx.Init(&req, &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4321}, nil)
	return &ctx
}

func TestBufferedResponse(t *testing.T) {
	d := newDriver(t, func(ctx context.Context, req *relay.Request) (relay.Reply, error) {
		resp := relay.Text(req.Method+" "+req.Path+"?"+req.QueryString+" "+string(req.Body)+" "+req.Headers.Get("x-fruit"), 202)
		resp.Headers.Set("x-remote", req.Extras[relay.ExtraRemoteAddr].(string))
		return resp, nil
	})
	ctx := newCtx("POST", "http://fruits.example/basket?n=2", "plums")
	d.Handler(ctx)

	assert.Equal(t, 202, ctx.Response.StatusCode())
	assert.Equal(t, "POST /basket?n=2 plums fig", string(ctx.Response.Body()))
	assert.Equal(t, "text/plain; charset=utf-8", string(ctx.Response.Header.ContentType()))
	assert.Equal(t, "10.0.0.1:4321", string(ctx.Response.Header.Peek("x-remote")))
}

func TestStreamedResponse(t *testing.T) {
	d := newDriver(t, func(ctx context.Context, req *relay.Request) (relay.Reply, error) {
		return &relay.Response{
			Status:  200,
			Headers: relay.NewHeader("content-type", "text/csv"),
			Stream:  relay.StreamOf([]byte("a,"), []byte("b,"), []byte("c")),
		}, nil
	})
	ctx := newCtx("GET", "http://fruits.example/export", "")
	d.Handler(ctx)

	require.True(t, ctx.Response.IsBodyStream())
	assert.Equal(t, 200, ctx.Response.StatusCode())
	assert.Equal(t, "text/csv", string(ctx.Response.Header.ContentType()))
	assert.Equal(t, "a,b,c", string(ctx.Response.Body()))
}

func TestHandlerError(t *testing.T) {
	d := newDriver(t, func(ctx context.Context, req *relay.Request) (relay.Reply, error) {
		return nil, errors.New("rotten")
	})
	ctx := newCtx("GET", "http://fruits.example/", "")
	d.Handler(ctx)
	assert.Equal(t, 500, ctx.Response.StatusCode())
}

func TestRawHandlerMisbehaves(t *testing.T) {
	d := newDriver(t, func(ctx context.Context, req *relay.Request) (relay.Reply, error) {
		return relay.RawHandler(func(ctx context.Context, receive relay.ReceiveFunc, send relay.SendFunc) error {
			return send(ctx, relay.SocketSend("not for requests"))
		}), nil
	})
	ctx := newCtx("GET", "http://fruits.example/", "")
	d.Handler(ctx)
	assert.Equal(t, 500, ctx.Response.StatusCode())
}

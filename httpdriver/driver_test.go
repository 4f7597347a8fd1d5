package httpdriver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augustoroman/relay"
)

func fruits(t *testing.T) relay.Handler {
	t.Helper()
	routes := relay.Routes{
		{Path: "/fruits/{name}", Methods: []string{"GET"}, Handler: func(ctx context.Context, req *relay.Request) (relay.Reply, error) {
			return relay.Text("fruit "+req.Arg(0)+" "+req.QueryString, 200), nil
		}},
		{Path: "/echo", Methods: []string{"POST"}, Handler: func(ctx context.Context, req *relay.Request) (relay.Reply, error) {
			return relay.JSON(map[string]any{
				"body":   string(req.Body),
				"host":   req.Headers.Get("host"),
				"header": req.Headers.Get("x-fruit"),
				"config": req.Config,
				"remote": req.Extras[relay.ExtraRemoteAddr] != "",
			}, 201)
		}},
		{Path: "/stream", Methods: []string{"GET"}, Handler: func(ctx context.Context, req *relay.Request) (relay.Reply, error) {
			return &relay.Response{Status: 200, Stream: relay.StreamOf([]byte("a"), []byte("b"), []byte("c"))}, nil
		}},
		{Path: "/broken", Methods: []string{"GET"}, Handler: func(ctx context.Context, req *relay.Request) (relay.Reply, error) {
			return nil, errors.New("broken")
		}},
		{Path: "/ws", Methods: []string{"WS"}, Handler: relay.Socket(func(ctx context.Context, req *relay.Request, in *relay.Inbound, out *relay.Outbound) error {
			for {
				msg, err := in.Next(ctx)
				if err != nil {
					return err
				}
				if msg.String() == "bye" {
					return out.Close(ctx, 4000)
				}
				if err := out.SendText(ctx, "echo: "+msg.String()); err != nil {
					return err
				}
			}
		}, relay.OnConnect(func(ctx context.Context, req *relay.Request) (relay.Event, error) {
			if req.QueryString == "deny" {
				return relay.SocketClose(4003), nil
			}
			return relay.SocketAccept("fruit"), nil
		}), relay.DrainTimeout(10*time.Millisecond))},
	}
	return relay.NewStack(relay.Routing(routes)).Then(relay.StandardNotFound)
}

func newServer(t *testing.T, opts relay.Options, dopts ...Option) (*httptest.Server, *Driver) {
	t.Helper()
	d := New(relay.New(fruits(t), opts), dopts...)
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return srv, d
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestRequests(t *testing.T) {
	srv, _ := newServer(t, relay.Options{})

	resp, body := get(t, srv.URL+"/fruits/apple?ripe=1")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "fruit apple ripe=1", body)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))

	resp, body = get(t, srv.URL+"/nope")
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "Not Found", body)

	resp, body = get(t, srv.URL+"/stream")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "abc", body)
}

func TestRequestBodyInChunks(t *testing.T) {
	srv, _ := newServer(t, relay.Options{}, WithChunkSize(3))

	req, err := http.NewRequest("POST", srv.URL+"/echo", strings.NewReader("banana split"))
	require.NoError(t, err)
	req.Header.Set("X-Fruit", "kiwi")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, 201, resp.StatusCode)
	host := strings.TrimPrefix(srv.URL, "http://")
	assert.JSONEq(t, `{"body":"banana split","host":"`+host+`","header":"kiwi","config":{},"remote":true}`, string(body))
}

func TestRequestWithoutBody(t *testing.T) {
	d := New(relay.New(fruits(t), relay.Options{}))
	req, err := http.NewRequest("POST", "http://example.com/echo", nil)
	require.NoError(t, err)
	require.Nil(t, req.Body)

	w := httptest.NewRecorder()
	d.ServeHTTP(w, req)
	assert.Equal(t, 201, w.Code)
	assert.JSONEq(t, `{"body":"","host":"example.com","header":"","config":{},"remote":false}`, w.Body.String())
}

func TestHandlerErrorIs500(t *testing.T) {
	srv, _ := newServer(t, relay.Options{})
	resp, body := get(t, srv.URL+"/broken")
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "Internal Server Error\n", body)
}

func TestLifecycle(t *testing.T) {
	var stopped bool
	srv, d := newServer(t, relay.Options{
		OnStart: func(ctx context.Context, scope relay.Scope) (map[string]any, error) {
			return map[string]any{"season": "summer"}, nil
		},
		OnStop: func(ctx context.Context, scope relay.Scope) error {
			stopped = true
			return nil
		},
	})
	ctx := context.Background()
	require.NoError(t, d.Start(ctx))
	assert.Error(t, d.Start(ctx), "second start")

	resp, err := http.Post(srv.URL+"/echo", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"config":{"season":"summer"}`)

	require.NoError(t, d.Stop(ctx))
	assert.True(t, stopped)
	assert.Error(t, d.Stop(ctx), "second stop")
}

func TestStartupFailure(t *testing.T) {
	_, d := newServer(t, relay.Options{
		OnStart: func(ctx context.Context, scope relay.Scope) (map[string]any, error) {
			return nil, errors.New("no orchard")
		},
	})
	err := d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no orchard")
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestSocket(t *testing.T) {
	srv, _ := newServer(t, relay.Options{})

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws"), http.Header{"Sec-Websocket-Protocol": {"fruit"}})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "fruit", resp.Header.Get("Sec-Websocket-Protocol"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("pear")))
	typ, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	assert.Equal(t, "echo: pear", string(msg))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("bye")))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, 4000), "%v", err)
}

func TestSocketRejected(t *testing.T) {
	srv, _ := newServer(t, relay.Options{})
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws?deny"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSocketNotFoundCloses(t *testing.T) {
	srv, _ := newServer(t, relay.Options{})
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/elsewhere"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWithExtras(t *testing.T) {
	r := httptest.NewRequest("GET", "/x", nil)
	r = WithExtras(r, map[string]any{"a": 1})
	r = WithExtras(r, map[string]any{relay.ExtraArgs: []string{"b"}})
	s := scope(relay.KindRequest, r)
	assert.Equal(t, 1, s.Extras["a"])
	assert.Equal(t, []string{"b"}, s.Extras[relay.ExtraArgs])
	assert.Equal(t, "192.0.2.1:1234", s.Extras[relay.ExtraRemoteAddr])
	assert.Equal(t, []relay.HeaderPair{relay.Pair("host", "example.com")}, s.Headers)
}

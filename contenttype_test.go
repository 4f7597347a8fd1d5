package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentType(t *testing.T) {
	mw, err := ContentType(map[string][]string{"text/x-fruit": {"fruit", ".frt"}}, "")
	require.NoError(t, err)

	testCases := []struct {
		path     string
		resp     *Response
		expected string
	}{
		{"/index.html", &Response{Status: 200}, "text/html; charset=utf-8"},
		{"/apple.fruit", &Response{Status: 200}, "text/x-fruit; charset=utf-8"},
		{"/pear.frt", &Response{Status: 200, Stream: StreamOf()}, "text/x-fruit; charset=utf-8"},
		{"/unknown", &Response{Status: 200}, DefaultContentType},
		{"/data.unknownext", &Response{Status: 200, Stream: StreamOf()}, DefaultContentType},
		{"/index.html", Text("given", 200), "text/plain; charset=utf-8"},
	}
	for _, test := range testCases {
		t.Run(test.path, func(t *testing.T) {
			h := ApplyMiddleware(mw)(replyWith(test.resp))
			reply, err := h(context.Background(), newTestRequest("GET", test.path))
			require.NoError(t, err)
			assert.Equal(t, test.expected, reply.(*Response).Headers.Get("content-type"))
		})
	}
}

func TestContentTypeCustomDefault(t *testing.T) {
	mw, err := ContentType(nil, "text/plain")
	require.NoError(t, err)
	reply, err := ApplyMiddleware(mw)(replyWith(&Response{Status: 200}))(context.Background(), newTestRequest("GET", "/x"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", reply.(*Response).Headers.Get("content-type"))
}

func TestContentTypeBadRegistration(t *testing.T) {
	_, err := ContentType(map[string][]string{"not a mime type": {"zz"}}, "")
	assert.Error(t, err)
}

func TestCORS(t *testing.T) {
	for _, test := range []struct{ origin, expected string }{
		{"", "*"},
		{"https://fruits.example", "https://fruits.example"},
	} {
		resp := Text("x", 200)
		reply, err := ApplyMiddleware(CORS(test.origin))(replyWith(resp))(context.Background(), newTestRequest("GET", "/"))
		require.NoError(t, err)
		assert.Equal(t, test.expected, reply.(*Response).Headers.Get("access-control-allow-origin"))
	}

	// Raw replies are left alone.
	raw := RawHandler(func(context.Context, ReceiveFunc, SendFunc) error { return nil })
	h := ApplyMiddleware(CORS(""))(func(ctx context.Context, req *Request) (Reply, error) { return raw, nil })
	reply, err := h(context.Background(), newTestRequest("GET", "/"))
	require.NoError(t, err)
	assert.IsType(t, RawHandler(nil), reply)
}

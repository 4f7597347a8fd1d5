package relay

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gunzip(t *testing.T, b []byte) string {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(body)
}

func TestGzip(t *testing.T) {
	greet := func(ctx context.Context, req *Request) (Reply, error) {
		return &Response{Status: 200, Body: []byte("Hi there!")}, nil
	}
	handler := NewStack(Gzip).Then(greet)

	reply, err := handler(context.Background(), newTestRequest("GET", "/", headerAcceptEncoding, "deflate, gzip"))
	require.NoError(t, err)
	resp := reply.(*Response)
	assert.Equal(t, "gzip", resp.Headers.Get(headerContentEncoding))
	assert.Equal(t, headerAcceptEncoding, resp.Headers.Get(headerVary))
	assert.Equal(t, "text/plain; charset=utf-8", resp.Headers.Get(headerContentType))
	assert.Equal(t, resp.Headers.Get(headerContentLength), strconv.Itoa(len(resp.Body)))
	assert.Equal(t, "Hi there!", gunzip(t, resp.Body))

	// Also, test without the accept header and make sure it's NOT gzip'd.
	reply, err = handler(context.Background(), newTestRequest("GET", "/"))
	require.NoError(t, err)
	resp = reply.(*Response)
	assert.Equal(t, "", resp.Headers.Get(headerContentEncoding))
	assert.Equal(t, "Hi there!", string(resp.Body))
}

func TestGzipStream(t *testing.T) {
	src := StreamOf([]byte("Hi "), []byte("there"), []byte("!"))
	handler := NewStack(Gzip).Then(replyWith(&Response{
		Status:  200,
		Headers: NewHeader("content-length", "9"),
		Stream:  src,
	}))

	reply, err := handler(context.Background(), newTestRequest("GET", "/", "accept-encoding", "gzip"))
	require.NoError(t, err)
	resp := reply.(*Response)
	assert.Equal(t, "gzip", resp.Headers.Get(headerContentEncoding))
	assert.Equal(t, "", resp.Headers.Get(headerContentLength))
	assert.NotSame(t, src, resp.Stream)

	var compressed bytes.Buffer
	var chunks int
	require.NoError(t, resp.Stream.Each(context.Background(), func(chunk []byte) error {
		chunks++
		compressed.Write(chunk)
		return nil
	}))
	assert.GreaterOrEqual(t, chunks, 3, "every source chunk is flushed")
	assert.Equal(t, "Hi there!", gunzip(t, compressed.Bytes()))

	// The original stream was handed over to the compressed one.
	assert.ErrorIs(t, src.Each(context.Background(), func([]byte) error { return nil }), ErrStreamConsumed)
}

func TestGzipSkips(t *testing.T) {
	testCases := []struct {
		name string
		resp *Response
	}{
		{"not modified", NotModified(NewHeader("etag", "x"))},
		{"already encoded", &Response{Status: 200, Headers: NewHeader("content-encoding", "br"), Body: []byte("zz")}},
		{"empty", &Response{Status: 204}},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			before := string(test.resp.Body)
			reply, err := NewStack(Gzip).Then(replyWith(test.resp))(context.Background(),
				newTestRequest("GET", "/", "accept-encoding", "gzip"))
			require.NoError(t, err)
			assert.Equal(t, before, string(reply.(*Response).Body))
			assert.NotEqual(t, "gzip", reply.(*Response).Headers.Get(headerContentEncoding))
		})
	}
}

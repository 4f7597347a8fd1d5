package relay

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticFixture(t *testing.T) (root string, mw Middleware) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "static", "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "static", "index.html"), []byte("<h1>fruits</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "static", "css", "site.css"), bytes.Repeat([]byte("a"), 10000), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("nope"), 0o644))

	mw, err := Static("static", root)
	require.NoError(t, err)
	return root, mw
}

func collect(t *testing.T, resp *Response) (chunks [][]byte) {
	t.Helper()
	require.NotNil(t, resp.Stream)
	require.NoError(t, resp.Stream.Each(context.Background(), func(chunk []byte) error {
		chunks = append(chunks, chunk)
		return nil
	}))
	return chunks
}

func TestStaticServesFiles(t *testing.T) {
	_, mw := staticFixture(t)
	h := ApplyMiddleware(mw)(StandardNotFound)

	reply, err := h(context.Background(), newTestRequest("GET", "/css/site.css"))
	require.NoError(t, err)
	resp := reply.(*Response)
	assert.Equal(t, 200, resp.Status)
	assert.Empty(t, resp.Body)
	assert.Equal(t, []string{"last-modified", "content-length", "etag"}, resp.Headers.Names())
	assert.Equal(t, "10000", resp.Headers.Get("content-length"))
	assert.Len(t, resp.Headers.Get("etag"), 32)

	chunks := collect(t, resp)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], DefaultChunkSize)
	assert.Len(t, chunks[1], DefaultChunkSize)
	assert.Len(t, chunks[2], 10000-2*DefaultChunkSize)

	reply, err = h(context.Background(), newTestRequest("HEAD", "/index.html"))
	require.NoError(t, err)
	resp = reply.(*Response)
	assert.Equal(t, 200, resp.Status)
	assert.Nil(t, resp.Stream)
	assert.Empty(t, resp.Body)
	assert.Equal(t, "15", resp.Headers.Get("content-length"))
	assert.Len(t, resp.Headers.Get("etag"), 32)
}

func TestStaticPassesThrough(t *testing.T) {
	_, mw := staticFixture(t)
	h := ApplyMiddleware(mw)(replyWith(Text("fallback", 200)))

	for _, test := range []struct{ method, path string }{
		{"POST", "/index.html"},
		{"GET", "/missing.html"},
		{"GET", "/css"},
		{"GET", "/"},
		{"GET", "/..%2fsecret.txt"},
	} {
		reply, err := h(context.Background(), newTestRequest(test.method, test.path))
		require.NoError(t, err)
		assert.Equal(t, "fallback", string(reply.(*Response).Body), "%s %s", test.method, test.path)
	}
}

func TestStaticRejectsParentPaths(t *testing.T) {
	_, mw := staticFixture(t)
	h := ApplyMiddleware(mw)(replyWith(Text("fallback", 200)))
	reply, err := h(context.Background(), newTestRequest("GET", "/../secret.txt"))
	require.NoError(t, err)
	assert.Equal(t, 404, reply.(*Response).Status)
}

func TestStaticNotModified(t *testing.T) {
	_, mw := staticFixture(t)
	h := ApplyMiddleware(mw)(StandardNotFound)

	reply, err := h(context.Background(), newTestRequest("GET", "/index.html"))
	require.NoError(t, err)
	first := reply.(*Response).Headers
	etag, lastModified := first.Get("etag"), first.Get("last-modified")

	testCases := []struct {
		name    string
		headers []string
		status  int
	}{
		{"etag", []string{"if-none-match", etag}, 304},
		{"date", []string{"if-modified-since", lastModified}, 304},
		{"both", []string{"if-none-match", etag, "if-modified-since", lastModified}, 304},
		{"stale etag", []string{"if-none-match", "abc"}, 200},
		{"one stale", []string{"if-none-match", etag, "if-modified-since", "yesterday"}, 200},
		{"none", nil, 200},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			reply, err := h(context.Background(), newTestRequest("GET", "/index.html", test.headers...))
			require.NoError(t, err)
			resp := reply.(*Response)
			assert.Equal(t, test.status, resp.Status)
			if test.status == 304 {
				assert.Equal(t, "Not Modified", string(resp.Body))
				assert.Equal(t, "12", resp.Headers.Get("content-length"))
				assert.Equal(t, etag, resp.Headers.Get("etag"))
			}
		})
	}
}

func TestStaticRequiresDirectory(t *testing.T) {
	root, _ := staticFixture(t)
	for _, dir := range []string{"secret.txt", "does-not-exist"} {
		_, err := Static(dir, root)
		assert.True(t, errors.Is(err, ErrNotADirectory), "%s: %v", dir, err)
	}
}

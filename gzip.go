package relay

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	headerAcceptEncoding  = "Accept-Encoding"
	headerContentEncoding = "Content-Encoding"
	headerContentLength   = "Content-Length"
	headerContentType     = "Content-Type"
	headerVary            = "Vary"
)

// Gzip is a middleware that adds gzip compression to the responses of all
// subsequent handlers when the client accepts it.
//
// For example, to gzip everything you could use:
//
//	app := relay.TheUsual().With(relay.Gzip, relay.Routing(routes)).Then(relay.StandardNotFound)
//
// Or, to gzip just a particular route you could do:
//
//	{"/foo/bar", []string{"GET"}, relay.ApplyMiddleware(relay.Gzip)(myHandleFooBar)}
//
// Note that this does NOT auto-detect the content and disable compression for
// already-compressed data (e.g. jpg images).
var Gzip = Wrap{After: gzipReply}.Middleware()

func gzipReply(ctx context.Context, req *Request, reply Reply, err error) (Reply, error) {
	resp, ok := reply.(*Response)
	if !ok || err != nil || !strings.Contains(req.Headers.Get(headerAcceptEncoding), "gzip") {
		return reply, err
	}
	if resp.Headers.Get(headerContentEncoding) != "" || resp.Status == http.StatusNotModified {
		return resp, nil
	}
	if resp.Stream == nil && len(resp.Body) == 0 {
		return resp, nil
	}
	resp.Headers.Set(headerContentEncoding, "gzip")
	resp.Headers.Set(headerVary, headerAcceptEncoding)

	if resp.Stream != nil {
		resp.Headers.Del(headerContentLength)
		resp.Stream = gzipStream(resp.Stream)
		return resp, nil
	}

	if resp.Headers.Get(headerContentType) == "" {
		resp.Headers.Set(headerContentType, http.DetectContentType(resp.Body))
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(resp.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	resp.Body = buf.Bytes()
	resp.Headers.Set(headerContentLength, strconv.Itoa(len(resp.Body)))
	return resp, nil
}

// gzipStream compresses s chunk by chunk, flushing after every chunk so the
// client sees data as soon as it is produced.
func gzipStream(s *Stream) *Stream {
	s.consumed.Store(true)
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	done := false
	return NewStream(func(ctx context.Context) ([]byte, error) {
		for {
			if buf.Len() > 0 {
				out := bytes.Clone(buf.Bytes())
				buf.Reset()
				return out, nil
			}
			if done {
				return nil, io.EOF
			}
			chunk, err := s.next(ctx)
			if errors.Is(err, io.EOF) {
				done = true
				if err := w.Close(); err != nil {
					return nil, err
				}
				continue
			} else if err != nil {
				return nil, err
			}
			if _, err := w.Write(chunk); err != nil {
				return nil, err
			}
			if err := w.Flush(); err != nil {
				return nil, err
			}
		}
	}, s.close)
}

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"
	"sync/atomic"
)

// Reply is what a Handler produces: either a *Response to be normalized and
// transmitted by the gateway, or a RawHandler that takes over the connection.
type Reply interface {
	isReply()
}

// RawHandler talks to the transport directly, bypassing response
// normalization. It is the escape hatch for low-level protocols, and the
// form in which socket handlers are delivered to the gateway.
type RawHandler func(ctx context.Context, receive ReceiveFunc, send SendFunc) error

func (RawHandler) isReply() {}

// Response is a normalized response. Exactly one of Body or Stream carries
// the content: when Stream is set, Body must be empty and is never read.
type Response struct {
	Status  int
	Headers Header
	// Cookies describes cookies to set; a nil description unsets the cookie.
	// The Cookies middleware (or the gateway, if no middleware did) turns
	// the descriptions into SetCookies before transmission.
	Cookies    map[string]*Cookie
	SetCookies []string
	Body       []byte
	Stream     *Stream
}

func (*Response) isReply() {}

// Stream is a lazy, finite, single-pass sequence of byte chunks.
type Stream struct {
	next     func(ctx context.Context) ([]byte, error)
	close    func() error
	consumed atomic.Bool
}

// NewStream builds a stream from a chunk producer. next returns io.EOF once
// the stream is exhausted; onDone, if not nil, runs after the last chunk.
func NewStream(next func(ctx context.Context) ([]byte, error), onDone func() error) *Stream {
	return &Stream{next: next, close: onDone}
}

// StreamOf builds a stream that produces the given chunks.
func StreamOf(chunks ...[]byte) *Stream {
	i := 0
	return NewStream(func(context.Context) ([]byte, error) {
		if i >= len(chunks) {
			return nil, io.EOF
		}
		i++
		return chunks[i-1], nil
	}, nil)
}

// Each calls fn for every chunk of the stream in order. A stream can only be
// iterated once; later calls return ErrStreamConsumed.
func (s *Stream) Each(ctx context.Context, fn func(chunk []byte) error) (err error) {
	if !s.consumed.CompareAndSwap(false, true) {
		return ErrStreamConsumed
	}
	if s.close != nil {
		defer func() {
			if cerr := s.close(); err == nil {
				err = cerr
			}
		}()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := s.next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
}

// Text builds a plain text response.
func Text(body string, status int) *Response {
	b := []byte(body)
	h := NewHeader(
		"content-type", "text/plain; charset=utf-8",
		"content-length", strconv.Itoa(len(b)),
	)
	return &Response{Status: status, Headers: h, Body: b}
}

// JSON builds a response containing v encoded as JSON.
func JSON(v any, status int) (*Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	h := NewHeader(
		"content-type", "application/json; charset=utf-8",
		"content-length", strconv.Itoa(len(b)),
	)
	return &Response{Status: status, Headers: h, Body: b}, nil
}

// NotFound builds a 404 text response. An empty msg means "Not Found".
func NotFound(msg string) *Response {
	if msg == "" {
		msg = "Not Found"
	}
	return Text(msg, 404)
}

// BadRequest builds a 400 text response.
func BadRequest(msg string) *Response {
	return Text(msg, 400)
}

// NotModified builds a 304 response carrying the given caching headers.
func NotModified(headers Header) *Response {
	msg := []byte("Not Modified")
	headers = headers.Clone()
	headers.Set("content-length", strconv.Itoa(len(msg)))
	return &Response{Status: 304, Body: msg, Headers: headers}
}

// DefaultChunkSize is the chunk size FileStream uses when none is given.
const DefaultChunkSize = 4096

// FileStream builds a 200 response that streams the file at path in chunks
// of chunkSize bytes. The file is opened lazily, when the stream is first
// iterated.
func FileStream(path string, headers Header, chunkSize int) *Response {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var f *os.File
	next := func(context.Context) ([]byte, error) {
		if f == nil {
			var err error
			if f, err = os.Open(path); err != nil {
				return nil, err
			}
		}
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			return buf[:n], nil
		}
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	closeFile := func() error {
		if f == nil {
			return nil
		}
		return f.Close()
	}
	return &Response{Status: 200, Headers: headers, Stream: NewStream(next, closeFile)}
}

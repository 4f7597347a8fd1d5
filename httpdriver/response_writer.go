package httpdriver

import (
	"errors"
	"net/http"

	"github.com/augustoroman/relay"
)

// responseWriter wraps http.ResponseWriter to add tracking of the response
// size and response code, and translates response events onto it.
type responseWriter struct {
	http.ResponseWriter
	Size int // The size of the response written so far, in bytes.
	Code int // The status code of the response, or 0 if not written yet.
}

var errBodyBeforeStart = errors.New("httpdriver: response.body before response.start")

func (w *responseWriter) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *responseWriter) WriteHeader(code int) {
	if w.Code == 0 {
		w.Code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.Code == 0 {
		w.Code = 200
	}
	n, err := w.ResponseWriter.Write(p)
	w.Size += n
	return n, err
}

// start writes the status line and headers of a response.start event.
func (w *responseWriter) start(ev relay.Event) error {
	if w.Code != 0 {
		return errors.New("httpdriver: response already started")
	}
	h := w.Header()
	for _, p := range ev.Headers {
		h.Add(string(p.Name), string(p.Value))
	}
	w.WriteHeader(ev.Status)
	return nil
}

// body writes the payload of a response.body event, flushing it to the
// client right away when more chunks follow.
func (w *responseWriter) body(ev relay.Event) error {
	if w.Code == 0 {
		return errBodyBeforeStart
	}
	if _, err := w.Write(ev.Body); err != nil {
		return err
	}
	if ev.MoreBody {
		w.Flush()
	}
	return nil
}

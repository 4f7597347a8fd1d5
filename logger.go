package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Injected for testing
var time_Now = time.Now
var os_Stderr io.Writer = os.Stderr

// LogEntry is the information tracked on a per-request basis for the relay
// access log. All fields other than Note are automatically filled in. The
// Note field is a generic key-value string map for adding additional
// per-request metadata to the logs. Handlers can reach the entry through
// Request.Log to add fields to Note.
//
// For example:
//
//	func myAuthCheck(ctx context.Context, req *relay.Request) (relay.Reply, error) {
//	    user, err := decodeAuthCookie(req)
//	    if user != nil && req.Log != nil {
//	        req.Log.Note["user"] = user.Id()  // indicate which user is auth'd
//	    }
//	    ...
//	}
type LogEntry struct {
	RemoteIp     string
	Start        time.Time
	Kind         Kind
	Method       string
	RequestURI   string
	StatusCode   int
	ResponseSize int
	Elapsed      time.Duration
	Error        error
	Note         map[string]string
	// set to true to suppress logging this request
	Quiet bool
}

// NoLog is a middleware that suppresses log output for this request. For
// example, to suppress logging of the favicon request to reduce log spam:
//
//	{"/favicon.ico", []string{"GET"}, relay.ApplyMiddleware(relay.NoLog)(favicon)}
//
// This depends on WriteLog respecting the Quiet flag, which the default
// implementation does.
func NoLog(next Link) Link {
	return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
		if req.Log != nil {
			req.Log.Quiet = true
		}
		return next(ctx, h, req)
	}
}

// LogRequests is a middleware that creates a log entry on the way in and
// commits the log entry once the rest of the chain has produced its reply.
var LogRequests = Wrap{startLog, commitLog}.Middleware()

func startLog(ctx context.Context, req *Request) (Reply, error) {
	req.Log = NewLogEntry(req)
	return nil, nil
}

func commitLog(ctx context.Context, req *Request, reply Reply, err error) (Reply, error) {
	if req.Log != nil {
		if req.Log.Error == nil {
			req.Log.Error = err
		}
		req.Log.Commit(reply)
	}
	return reply, err
}

// NewLogEntry creates a *LogEntry and initializes it with basic request
// information.
func NewLogEntry(req *Request) *LogEntry {
	uri := req.Path
	if req.QueryString != "" {
		uri += "?" + req.QueryString
	}
	return &LogEntry{
		RemoteIp:   remoteIp(req),
		Start:      time_Now(),
		Kind:       req.Kind,
		Method:     req.Method,
		RequestURI: uri,
		Note:       map[string]string{},
	}
}

// Commit fills in the remaining *LogEntry fields from the reply and writes
// the entry out. Raw replies are logged with status 0 since their outcome is
// not known to the chain.
func (entry *LogEntry) Commit(reply Reply) {
	entry.Elapsed = time_Now().Sub(entry.Start)
	if resp, ok := reply.(*Response); ok {
		entry.StatusCode = resp.Status
		entry.ResponseSize = len(resp.Body)
		if resp.Stream != nil {
			entry.ResponseSize, _ = strconv.Atoi(resp.Headers.Get("content-length"))
		}
	}
	WriteLog(*entry)
}

// Some nice escape codes
const (
	_GREEN  = "\033[32m"
	_YELLOW = "\033[33m"
	_RESET  = "\033[0m"
	_RED    = "\033[91m"
)

// WriteLog is called to actually write a LogEntry out to the log. By default,
// it writes to stderr and colors normal requests green, slow requests yellow,
// and errors red. You can replace the function to adjust the formatting or use
// whatever logging library you like.
var WriteLog = func(e LogEntry) {
	if e.Quiet {
		return
	}
	col, reset := logColors(e)
	fmt.Fprintf(os_Stderr, "%s%s %s \"%s %s\" (%d %s %s) %s%s\n",
		col,
		e.Start.Format(time.RFC3339), e.RemoteIp,
		e.Method, e.RequestURI,
		e.StatusCode, humanize.Bytes(uint64(e.ResponseSize)), e.Elapsed,
		e.NotesAndError(),
		reset)
}

// NotesAndError formats the Note values and error (if any) for logging.
func (l LogEntry) NotesAndError() string {
	pairs := make([]string, 0, len(l.Note))
	for k, v := range l.Note {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, v))
	}
	sort.Strings(pairs)
	msg := strings.Join(pairs, " ")
	if l.Error != nil {
		msg += "\n  ERROR: " + l.Error.Error()
	}
	return msg
}

func logColors(e LogEntry) (start, reset string) {
	col, reset := _GREEN, _RESET
	if e.Elapsed > 30*time.Millisecond {
		col = _YELLOW
	}
	if e.StatusCode >= 400 || e.Error != nil {
		col, reset = _RED, _RESET // high-intensity red + reset
	}
	return col, reset
}

// remoteIp extracts the remote IP from the request. Adapted from code in
// Martini:
//
//	https://github.com/go-martini/martini/blob/1d33529c15f19/logger.go#L14..L20
func remoteIp(req *Request) string {
	if addr := req.Headers.Get("x-real-ip"); addr != "" {
		return addr
	} else if addr := req.Headers.Get("x-forwarded-for"); addr != "" {
		return addr
	}
	addr, _ := req.Extras[ExtraRemoteAddr].(string)
	return addr
}

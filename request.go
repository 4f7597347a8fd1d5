package relay

import (
	"net/url"

	"github.com/augustoroman/relay/chain"
)

// Request is the normalized form of one connection, handed to the handler
// chain. It belongs to that connection only and must not be retained after
// the response has been produced.
type Request struct {
	Kind        Kind
	Path        string
	Method      string // "WS" for socket connections
	QueryString string
	Extras      map[string]any

	// Headers is the folded header mapping; HeadersList keeps the raw pairs
	// for anything that needs repeated headers unmerged.
	Headers     Header
	HeadersList []HeaderPair
	Body        []byte

	// Config is the configuration returned by the start hook, as of the time
	// the connection started being served.
	Config map[string]any

	// Args holds the positional route parameters set by the router.
	Args []string

	// Populated by the collaborating middleware.
	Cookies     map[string]string
	JSON        any
	QueryParams url.Values
	FormParams  url.Values
	Params      url.Values
	ID          string
	Log         *LogEntry
}

// Arg returns the i'th positional route parameter or "" if there is none.
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// Handler produces the reply for one request.
type Handler = chain.Handler[*Request, Reply]

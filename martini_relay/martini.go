// Package martini_relay is a martini-adapter for relay that provides the
// martini route parameters to the handler chain as the request's positional
// Args.
package martini_relay

import (
	"net/http"
	"regexp"
	"sort"
	"strconv"

	"github.com/go-martini/martini"

	"github.com/augustoroman/relay"
	"github.com/augustoroman/relay/httpdriver"
)

// ExtraParams is the Scope.Extras key holding the martini.Params of the
// matched route.
const ExtraParams = "martini.params"

// Same token syntax martini's router compiles route patterns with.
var paramToken = regexp.MustCompile(`:[^/#?()\.\\]+|\*\*`)

// H adapts a driver (or anything else serving a relay gateway over
// net/http) into a martini handler:
//
//	m := martini.Classic()
//	m.Get("/say/:greeting/:name", martini_relay.H(d))
//
// Args follow the order the parameters appear in the route pattern.
func H(d http.Handler) martini.Handler {
	return func(w http.ResponseWriter, r *http.Request, p martini.Params, route martini.Route) {
		d.ServeHTTP(w, httpdriver.WithExtras(r, map[string]any{
			relay.ExtraArgs: positional(route.Pattern(), p),
			ExtraParams:     p,
		}))
	}
}

// Handle is H for a handler served by its own gateway with the default
// options.
func Handle(h relay.Handler) martini.Handler {
	return H(httpdriver.New(relay.New(h, relay.Options{})))
}

// Params returns the martini parameters of req, or nil if it wasn't routed
// by martini.
func Params(req *relay.Request) martini.Params {
	p, _ := req.Extras[ExtraParams].(martini.Params)
	return p
}

// positional orders the values of p as their names appear in pattern. Any
// parameter the pattern doesn't mention follows, sorted by name.
func positional(pattern string, p martini.Params) []string {
	args := make([]string, 0, len(p))
	seen := map[string]bool{}
	globs := 0
	for _, tok := range paramToken.FindAllString(pattern, -1) {
		name := tok[1:]
		if tok == "**" {
			globs++
			name = "_" + strconv.Itoa(globs)
		}
		if v, ok := p[name]; ok && !seen[name] {
			seen[name] = true
			args = append(args, v)
		}
	}
	var rest []string
	for name := range p {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		args = append(args, p[name])
	}
	return args
}

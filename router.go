package relay

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gorilla/mux"
)

// Route is one entry of a route table. Path is either static ("/fruits") or
// contains one or more single-segment parameters ("/fruits/{name}"). A
// parameter may carry its own pattern, as in "/fruits/{id:[0-9]+}". One
// trailing slash is insignificant, both here and in request paths.
type Route struct {
	Path    string
	Methods []string
	Handler Handler
}

// Routes is an ordered route table.
type Routes []Route

// Router dispatches a path and method to a handler. It is built once from a
// route table and is read-only afterwards, so it is safe to share between
// connections.
type Router struct {
	static  map[string]map[string]Handler
	dynamic map[int][]*dynamicRoute // keyed by the number of slashes
}

type dynamicRoute struct {
	pattern *regexp.Regexp
	methods map[string]Handler
}

// NewRouter builds a Router from the route table. Static entries registered
// more than once for the same normalized path are merged by method, later
// entries winning for overlapping methods; the same holds for dynamic entries
// that compile to the same pattern.
func NewRouter(routes Routes) (*Router, error) {
	r := &Router{
		static:  map[string]map[string]Handler{},
		dynamic: map[int][]*dynamicRoute{},
	}
	for i, route := range routes {
		if err := r.register(route); err != nil {
			return nil, fmt.Errorf("route #%d %#q: %w", i, route.Path, err)
		}
	}
	return r, nil
}

// MustRouter is like NewRouter but panics if the route table is malformed.
func MustRouter(routes Routes) *Router {
	r, err := NewRouter(routes)
	if err != nil {
		panic(fmt.Errorf("Cannot register routes: %w", err))
	}
	return r
}

func normalizePath(path string) string {
	return strings.TrimSuffix(path, "/")
}

func (r *Router) register(route Route) error {
	if !strings.HasPrefix(route.Path, "/") {
		return errors.New("patterns must begin with /")
	}
	if route.Handler == nil {
		return errors.New("handler is <nil>")
	}
	path := normalizePath(route.Path)
	if !strings.Contains(path, "{") {
		merge(r.static, path, route)
		return nil
	}

	pattern, err := compileTemplate(path)
	if err != nil {
		return err
	}
	bucket := strings.Count(path, "/")
	for _, existing := range r.dynamic[bucket] {
		if existing.pattern.String() == pattern.String() {
			addMethods(existing.methods, route)
			return nil
		}
	}
	d := &dynamicRoute{pattern: pattern, methods: map[string]Handler{}}
	addMethods(d.methods, route)
	r.dynamic[bucket] = append(r.dynamic[bucket], d)
	return nil
}

// compileTemplate turns a path template into an anchored regexp with one
// capture group per parameter, in order. mux panics on parameter patterns
// that contain their own capture groups; that is reported as an error.
func compileTemplate(tpl string) (_ *regexp.Regexp, err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("%v", x)
		}
	}()
	route := mux.NewRouter().NewRoute().Path(tpl)
	if err := route.GetError(); err != nil {
		return nil, err
	}
	expr, err := route.GetPathRegexp()
	if err != nil {
		return nil, err
	}
	return regexp.Compile(expr)
}

func merge(static map[string]map[string]Handler, path string, route Route) {
	methods := static[path]
	if methods == nil {
		methods = map[string]Handler{}
		static[path] = methods
	}
	addMethods(methods, route)
}

func addMethods(methods map[string]Handler, route Route) {
	for _, m := range route.Methods {
		methods[strings.ToUpper(m)] = route.Handler
	}
}

// Match finds the handler for path and method along with the positional
// parameters extracted from the path. Static routes always win over dynamic
// ones; dynamic routes are tried in registration order. It returns nil, nil
// when nothing matches.
func (r *Router) Match(path, method string) (Handler, []string) {
	path = normalizePath(path)
	method = strings.ToUpper(method)
	if h := r.static[path][method]; h != nil {
		return h, []string{}
	}
	for _, d := range r.dynamic[strings.Count(path, "/")] {
		groups := d.pattern.FindStringSubmatch(path)
		if groups == nil {
			continue
		}
		if h := d.methods[method]; h != nil {
			return h, groups[1:]
		}
	}
	return nil, nil
}

// Middleware routes requests: when the request matches a route, everything
// downstream dispatches to that route's handler with the positional
// parameters stored in Request.Args. Otherwise the request continues to the
// handler the chain was built with, which acts as the fallback.
func (r *Router) Middleware(next Link) Link {
	return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
		route, args := r.Match(req.Path, req.Method)
		if route == nil {
			return next(ctx, h, req)
		}
		return next(ctx, bindArgs(route, args), req)
	}
}

func bindArgs(h Handler, args []string) Handler {
	return func(ctx context.Context, req *Request) (Reply, error) {
		req.Args = args
		return h(ctx, req)
	}
}

// Routing builds a Router from the route table and returns its middleware.
// It panics if the route table is malformed.
func Routing(routes Routes) Middleware {
	return MustRouter(routes).Middleware
}

// StandardNotFound is the default fallback handler: request connections get
// a 404 text response and socket connections are closed.
func StandardNotFound(ctx context.Context, req *Request) (Reply, error) {
	if req.Kind == KindSocket {
		return closeSocket(CloseNormal), nil
	}
	return NotFound(""), nil
}

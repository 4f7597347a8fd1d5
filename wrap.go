package relay

import (
	"context"

	"github.com/augustoroman/relay/chain"
)

// Link is one step of a composed handler chain: it receives the handler the
// chain will dispatch to in addition to the request.
type Link = chain.Link[*Request, Reply]

// Middleware wraps the next Link. See chain.Middleware for the contract every
// middleware must honor.
type Middleware = chain.Middleware[*Request, Reply]

// Compose merges middleware into one; the first listed runs outermost.
func Compose(mws ...Middleware) Middleware {
	return chain.Compose(mws...)
}

// ApplyMiddleware returns a function that binds a terminal handler into the
// composed middleware, producing the Handler the gateway invokes.
//
// For example:
//
//	app := relay.ApplyMiddleware(
//	    relay.LogRequests,
//	    relay.Routing(routes),
//	    relay.Cookies,
//	)(relay.StandardNotFound)
func ApplyMiddleware(mws ...Middleware) func(Handler) Handler {
	return chain.Apply(mws...)
}

// Wrap provides a mechanism to add two functions around the rest of the
// chain: Before runs on the way in and may short-circuit the chain with a
// reply; After runs on the way out, regardless of
// whether a later step returned an error, and may modify the reply or the
// error.
//
// This is generally useful for operations that need to run before and after
// subsequent middleware, such as timing, logging, or allocation/cleanup.
type Wrap struct {
	Before func(ctx context.Context, req *Request) (Reply, error)
	After  func(ctx context.Context, req *Request, reply Reply, err error) (Reply, error)
}

// Middleware converts w into a Middleware. If Before returns a non-nil reply
// or an error, the rest of the chain is skipped and After is not called.
func (w Wrap) Middleware() Middleware {
	return func(next Link) Link {
		return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
			if w.Before != nil {
				if reply, err := w.Before(ctx, req); reply != nil || err != nil {
					return reply, err
				}
			}
			reply, err := next(ctx, h, req)
			if w.After != nil {
				return w.After(ctx, req, reply, err)
			}
			return reply, err
		}
	}
}

// Package chain composes request handlers with the middleware that wraps them.
//
// A chain is built once, at setup time, and is immutable afterwards: every
// operation returns a new Chain so that a base chain can be shared and
// extended by several routes without interfering with each other.
package chain

import (
	"context"
)

// Handler processes one request and produces exactly one response.
type Handler[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Link is one step of a composed chain. Besides the request it receives the
// handler that the chain will eventually dispatch to, so a link (a router, for
// example) may substitute a different handler for everything downstream
// without changing the shape of the chain.
type Link[Req, Resp any] func(ctx context.Context, h Handler[Req, Resp], req Req) (Resp, error)

// Middleware wraps the next link of a chain and returns the wrapped link.
//
// A middleware must return exactly one response per invocation and must
// propagate errors from next unless it deliberately converts them into a
// response. It may modify the request before calling next and the response
// afterwards, but must not hold on to either once it returns.
type Middleware[Req, Resp any] func(next Link[Req, Resp]) Link[Req, Resp]

// Terminal is the innermost link of every chain: it simply calls whatever
// handler reached it.
func Terminal[Req, Resp any](ctx context.Context, h Handler[Req, Resp], req Req) (Resp, error) {
	return h(ctx, req)
}

// Compose merges the middleware into a single middleware equivalent to
// mws[0](mws[1](...mws[n-1](next))). The first listed middleware is the
// outermost one: it sees the request first and the response last. Composing
// no middleware yields the identity.
func Compose[Req, Resp any](mws ...Middleware[Req, Resp]) Middleware[Req, Resp] {
	for i, mw := range mws {
		if mw == nil {
			panicf("%s arg of Compose(...) is nil", ordinalize(i+1))
		}
	}
	switch len(mws) {
	case 0:
		return func(next Link[Req, Resp]) Link[Req, Resp] { return next }
	case 1:
		return mws[0]
	}
	steps := append([]Middleware[Req, Resp](nil), mws...)
	return func(next Link[Req, Resp]) Link[Req, Resp] {
		for i := len(steps) - 1; i >= 0; i-- {
			next = steps[i](next)
		}
		return next
	}
}

// Apply returns a function that binds a terminal handler into the composed
// middleware, yielding a plain Handler ready to be invoked per request.
func Apply[Req, Resp any](mws ...Middleware[Req, Resp]) func(Handler[Req, Resp]) Handler[Req, Resp] {
	composed := Compose(mws...)
	return func(h Handler[Req, Resp]) Handler[Req, Resp] {
		if h == nil {
			panicf("Apply(...) requires a handler, got <nil>")
		}
		link := composed(Terminal[Req, Resp])
		return func(ctx context.Context, req Req) (Resp, error) {
			return link(ctx, h, req)
		}
	}
}

// Chain holds an ordered stack of middleware. Chain is immutable: all
// operations return a new chain.
type Chain[Req, Resp any] struct{ steps []Middleware[Req, Resp] }

// New starts a chain with the given middleware.
func New[Req, Resp any](mws ...Middleware[Req, Resp]) Chain[Req, Resp] {
	return Chain[Req, Resp]{}.With(mws...)
}

// With clones this chain and appends the middleware to the clone.
func (c Chain[Req, Resp]) With(mws ...Middleware[Req, Resp]) Chain[Req, Resp] {
	for i, mw := range mws {
		if mw == nil {
			panicf("%s arg of With(...) is nil", ordinalize(i+1))
		}
	}
	s := make([]Middleware[Req, Resp], 0, len(c.steps)+len(mws))
	s = append(s, c.steps...)
	s = append(s, mws...)
	return Chain[Req, Resp]{s}
}

// Len reports how many middleware are in the chain.
func (c Chain[Req, Resp]) Len() int { return len(c.steps) }

// Then binds h as the terminal handler of the chain.
func (c Chain[Req, Resp]) Then(h Handler[Req, Resp]) Handler[Req, Resp] {
	return Apply(c.steps...)(h)
}

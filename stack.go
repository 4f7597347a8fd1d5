package relay

import (
	"context"

	"github.com/augustoroman/relay/chain"
)

// Stack is the immutable middleware stack that powers relay applications.
// All mutating functions create a new instance, so a common prefix can be
// shared between several route handlers.
type Stack = chain.Chain[*Request, Reply]

// NewStack constructs a clean Stack, ready for you to start piling on the
// middleware.
func NewStack(mws ...Middleware) Stack {
	return chain.New(mws...)
}

// TheUsual constructs a popular new Stack with some delicious default
// middleware installed and ready to go: request logging, simple error
// handling and panic recovery.
func TheUsual() Stack {
	return NewStack(LogRequests, HandleErrors, RecoverPanics)
}

// RecoverPanics converts a panic in any later step into a chain.PanicError
// returned up the chain, where HandleErrors can turn it into a 500.
func RecoverPanics(next Link) Link {
	return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
		return chain.Recover(func(ctx context.Context, req *Request) (Reply, error) {
			return next(ctx, h, req)
		})(ctx, req)
	}
}

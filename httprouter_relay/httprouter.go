// Package httprouter_relay is a httprouter-adapter for relay that provides
// the httprouter path parameters to the handler chain as the request's
// positional Args.
package httprouter_relay

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/augustoroman/relay"
	"github.com/augustoroman/relay/httpdriver"
)

// ExtraParams is the Scope.Extras key holding the httprouter.Params of the
// matched route.
const ExtraParams = "httprouter.params"

// H adapts a driver (or anything else serving a relay gateway over
// net/http) into an httprouter.Handle. For example:
//
//	d := httpdriver.New(relay.New(getUser, relay.Options{}))
//	r := httprouter.New()
//	r.GET("/user/:id", httprouter_relay.H(d))
//
//	func getUser(ctx context.Context, req *relay.Request) (relay.Reply, error) {
//	    user, err := udb.Lookup(req.Arg(0))
//	    if err != nil {
//	        return nil, err // or wrap with relay.Error{...}
//	    }
//	    return relay.JSON(user, 200)
//	}
func H(d http.Handler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		args := make([]string, len(p))
		for i, param := range p {
			args[i] = param.Value
		}
		d.ServeHTTP(w, httpdriver.WithExtras(r, map[string]any{
			relay.ExtraArgs: args,
			ExtraParams:     p,
		}))
	}
}

// Handle is H for a handler served by its own gateway with the default
// options. Use H with a shared driver when the lifecycle hooks matter.
func Handle(h relay.Handler) httprouter.Handle {
	return H(httpdriver.New(relay.New(h, relay.Options{})))
}

// Params returns the httprouter parameters of req, or nil if it wasn't
// routed by httprouter.
func Params(req *relay.Request) httprouter.Params {
	p, _ := req.Extras[ExtraParams].(httprouter.Params)
	return p
}

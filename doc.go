// Package relay is a gateway that adapts an event-based server transport to
// plain request handlers and socket handlers that are easy to test.
//
// A transport driver (see the httpdriver and fasthttpdriver packages) hands
// every incoming connection to a Gateway as a Scope plus a pair of receive
// and send functions. The gateway:
//   - Builds a *Request from the scope: folded headers, the whole body, the
//     configuration returned by the startup hook.
//   - Runs your handler chain to produce a Reply.
//   - Transmits the reply back as events, either buffered or streamed.
//
// Sockets and the lifecycle handshake (startup and shutdown) travel over the
// same contract.
//
// # Example
//
// Here's a simple complete program using relay:
//
//	package main
//
//	import (
//	    "context"
//	    "log"
//	    "net/http"
//
//	    "github.com/augustoroman/relay"
//	    "github.com/augustoroman/relay/httpdriver"
//	)
//
//	func main() {
//	    app := relay.TheUsual().Then(func(ctx context.Context, req *relay.Request) (relay.Reply, error) {
//	        return relay.Text("Hello world!", 200), nil
//	    })
//	    d := httpdriver.New(relay.New(app, relay.Options{}))
//	    if err := http.ListenAndServe(":6060", d); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Handlers
//
// A Handler takes the request and returns a Reply: a *Response built with
// one of the helpers (Text, JSON, NotFound, FileStream, ...) or a RawHandler
// that talks to the transport itself. Returning an error aborts the chain;
// the HandleErrors middleware turns errors into responses, using the Code
// and ClientMsg of an Error:
//
//	func GetFruit(ctx context.Context, req *relay.Request) (relay.Reply, error) {
//	    fruit, err := db.Lookup(req.Arg(0))
//	    if err != nil {
//	        return nil, relay.Error{Code: 404, ClientMsg: "No such fruit", Cause: err}
//	    }
//	    return relay.JSON(fruit, 200)
//	}
//
// # Routing
//
// A route table maps path templates and methods to handlers. Static paths
// always win over templates; templates are tried in the order they were
// registered, and their parameters end up in Request.Args:
//
//	routes := relay.Routes{
//	    {Path: "/fruits", Methods: []string{"GET"}, Handler: ListFruits},
//	    {Path: "/fruits/{name}", Methods: []string{"GET"}, Handler: GetFruit},
//	    {Path: "/echo", Methods: []string{"WS"}, Handler: relay.Socket(Echo)},
//	}
//	app := relay.TheUsual().With(relay.Routing(routes)).Then(relay.StandardNotFound)
//
// Socket connections route with the method "WS".
//
// # Middleware
//
// A Middleware wraps the rest of the chain. It can change the request on the
// way in, the reply or error on the way out, short-circuit the chain with
// its own reply, or replace the handler the chain dispatches to (which is
// how Routing works). Stacks are immutable, so it's safe to branch:
//
//	base := relay.TheUsual().With(relay.Cookies)
//	api := base.With(relay.HandleErrorsJSON, relay.ParseJSON(true))
//
// Middleware that needs to run before and after the rest of the chain, like
// the access log, can be written as a Wrap:
//
//	var LogRequests = relay.Wrap{startLog, commitLog}.Middleware()
//
// # Sockets
//
// Socket builds a handler from a function that reads inbound messages and
// sends outbound ones in any interleaving. The connect handshake, the final
// close and the disconnect callback are taken care of:
//
//	func Echo(ctx context.Context, req *relay.Request, in *relay.Inbound, out *relay.Outbound) error {
//	    for {
//	        msg, err := in.Next(ctx)
//	        if err != nil {
//	            return err
//	        }
//	        if err := out.SendText(ctx, msg.String()); err != nil {
//	            return err
//	        }
//	    }
//	}
//
// # Lifecycle
//
// When the transport opens a lifecycle connection, request and socket
// connections wait until the startup hook has finished. The map returned by
// Options.OnStart is handed to every later request as Request.Config.
package relay

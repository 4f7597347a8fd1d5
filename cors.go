package relay

import "context"

// CORS returns a middleware that allows cross-origin access from origin by
// adding an Access-Control-Allow-Origin header to every response. An empty
// origin means "*".
func CORS(origin string) Middleware {
	if origin == "" {
		origin = "*"
	}
	return func(next Link) Link {
		return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
			reply, err := next(ctx, h, req)
			if resp, ok := reply.(*Response); ok && err == nil {
				resp.Headers.Set("Access-Control-Allow-Origin", origin)
			}
			return reply, err
		}
	}
}

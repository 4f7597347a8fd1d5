package relay

import (
	"context"

	"github.com/google/uuid"
)

// RequestIDHeader is the header RequestID reads and writes.
const RequestIDHeader = "x-request-id"

// Injected for testing
var newRequestID = uuid.NewString

// RequestID is a middleware that tags every request with an id: the one the
// client (or a proxy) sent in the x-request-id header if there is one, else a
// fresh uuid. The id is stored in Request.ID, noted on the request's log
// entry and echoed in the response headers.
func RequestID(next Link) Link {
	return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
		req.ID = req.Headers.Get(RequestIDHeader)
		if req.ID == "" {
			req.ID = newRequestID()
		}
		if req.Log != nil {
			req.Log.Note["id"] = req.ID
		}
		reply, err := next(ctx, h, req)
		if resp, ok := reply.(*Response); ok && err == nil {
			resp.Headers.Set(RequestIDHeader, req.ID)
		}
		return reply, err
	}
}

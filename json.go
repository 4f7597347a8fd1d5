package relay

import (
	"context"
	"encoding/json"
	"strings"
)

// ParseJSON returns a middleware that decodes application/json request
// bodies into Request.JSON. A malformed body is answered with a 400 and never
// reaches the handler; so is an empty body when failOnMissingBody is set.
// Requests of any other content type get a nil Request.JSON.
func ParseJSON(failOnMissingBody bool) Middleware {
	return func(next Link) Link {
		return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
			isJSON := strings.Contains(req.Headers.Get("content-type"), "application/json")
			hasBody := len(req.Body) > 0
			req.JSON = nil
			switch {
			case isJSON && hasBody:
				if err := json.Unmarshal(req.Body, &req.JSON); err != nil {
					return BadRequest("Malformed JSON"), nil
				}
			case isJSON && failOnMissingBody:
				return BadRequest("Malformed JSON"), nil
			}
			return next(ctx, h, req)
		}
	}
}

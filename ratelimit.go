package relay

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

// CloseTryAgainLater is the close code sent to sockets turned away by
// RateLimit.
const CloseTryAgainLater = 1013

// RateLimit returns a middleware that admits requests at up to limit per
// second with bursts of up to burst, shared by all clients. Requests over
// the limit get a 429 with a retry-after header; sockets are closed with
// CloseTryAgainLater.
func RateLimit(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next Link) Link {
		return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
			r := limiter.Reserve()
			if r.OK() && r.Delay() == 0 {
				return next(ctx, h, req)
			}
			delay := r.Delay()
			r.Cancel()

			if req.Kind == KindSocket {
				return closeSocket(CloseTryAgainLater), nil
			}
			resp := Text(http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			if delay > 0 && delay != rate.InfDuration {
				resp.Headers.Set("retry-after", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			}
			return resp, nil
		}
	}
}

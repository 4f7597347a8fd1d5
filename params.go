package relay

import (
	"context"
	"net/url"
	"strings"
)

// Parameters returns a middleware that parses the query string into
// Request.QueryParams and application/x-www-form-urlencoded bodies into
// Request.FormParams. Request.Params holds both, form values replacing query
// values of the same name. Blank values are dropped unless keepBlank is set.
func Parameters(keepBlank bool) Middleware {
	return func(next Link) Link {
		return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
			req.QueryParams = parseParams(req.QueryString, keepBlank)
			req.FormParams = url.Values{}
			if strings.Contains(req.Headers.Get("content-type"), "application/x-www-form-urlencoded") {
				req.FormParams = parseParams(string(req.Body), keepBlank)
			}
			req.Params = url.Values{}
			for k, v := range req.QueryParams {
				req.Params[k] = v
			}
			for k, v := range req.FormParams {
				req.Params[k] = v
			}
			return next(ctx, h, req)
		}
	}
}

// parseParams is a lenient url.ParseQuery: malformed pairs are skipped
// instead of failing the whole string.
func parseParams(s string, keepBlank bool) url.Values {
	values := url.Values{}
	for _, pair := range strings.FieldsFunc(s, func(r rune) bool { return r == '&' || r == ';' }) {
		key, value, _ := strings.Cut(pair, "=")
		key, err1 := url.QueryUnescape(key)
		value, err2 := url.QueryUnescape(value)
		if err1 != nil || err2 != nil || key == "" {
			continue
		}
		if value == "" && !keepBlank {
			continue
		}
		values.Add(key, value)
	}
	return values
}

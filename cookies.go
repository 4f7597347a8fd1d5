package relay

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Cookie describes a cookie to set on the client. Exactly one of Expires or
// RawExpires is normally used: RawExpires is sent verbatim.
type Cookie struct {
	Value      string
	Path       string
	Domain     string
	Expires    time.Time
	RawExpires string
	MaxAge     int
	Secure     bool
	HttpOnly   bool
	SameSite   http.SameSite
}

// unsetExpiry is the fixed point in the past used to unset cookies.
var unsetExpiry = time.Unix(1545335438, 0)

// serialize renders the Set-Cookie value for the named cookie. A nil cookie
// produces an empty cookie that has already expired.
func (c *Cookie) serialize(name string) string {
	if c == nil {
		return (&http.Cookie{Name: name, Expires: unsetExpiry}).String()
	}
	hc := http.Cookie{
		Name:     name,
		Value:    escapeCookieValue(c.Value),
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  c.Expires,
		MaxAge:   c.MaxAge,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		SameSite: c.SameSite,
	}
	s := hc.String()
	if c.RawExpires != "" && c.Expires.IsZero() {
		s += "; Expires=" + c.RawExpires
	}
	return s
}

// escapeCookieValue percent-encodes everything outside the unreserved set so
// the value never needs quoting.
func escapeCookieValue(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// serializeCookies moves the cookie descriptions into SetCookies, in name
// order.
func (r *Response) serializeCookies() {
	if len(r.Cookies) == 0 {
		return
	}
	names := make([]string, 0, len(r.Cookies))
	for name := range r.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.SetCookies = append(r.SetCookies, r.Cookies[name].serialize(name))
	}
	r.Cookies = nil
}

// ParseCookies decodes a cookie header into a name/value map. Malformed
// entries are skipped.
func ParseCookies(header string) map[string]string {
	cookies := map[string]string{}
	if header == "" {
		return cookies
	}
	r := http.Request{Header: http.Header{"Cookie": {header}}}
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	return cookies
}

// Cookies decodes the request's cookie header into Request.Cookies and, on
// the way out, serializes the response's cookie descriptions into Set-Cookie
// values.
//
// For example:
//
//	func login(ctx context.Context, req *relay.Request) (relay.Reply, error) {
//	    resp := relay.Text("welcome", 200)
//	    resp.Cookies = map[string]*relay.Cookie{
//	        "session": {Value: newSession(), HttpOnly: true},
//	        "legacy":  nil, // unset
//	    }
//	    return resp, nil
//	}
func Cookies(next Link) Link {
	return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
		req.Cookies = ParseCookies(req.Headers.Get("cookie"))
		reply, err := next(ctx, h, req)
		if resp, ok := reply.(*Response); ok && err == nil {
			resp.serializeCookies()
		}
		return reply, err
	}
}

package relay

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
)

// DefaultContentType is used by ContentType when the extension of the
// request path doesn't identify a type.
const DefaultContentType = "application/octet-stream"

// ContentType returns a middleware that fills in a missing content-type on
// responses by guessing from the extension of the request path. extra maps
// additional content types to their extensions, with or without the leading
// dot, as in:
//
//	relay.ContentType(map[string][]string{"text/x-fruit": {"fruit", ".frt"}}, "")
//
// Registered text/ types get a "; charset=utf-8" suffix, as with
// mime.AddExtensionType. An empty def means DefaultContentType.
func ContentType(extra map[string][]string, def string) (Middleware, error) {
	if def == "" {
		def = DefaultContentType
	}
	for typ, exts := range extra {
		for _, ext := range exts {
			ext = "." + strings.TrimLeft(ext, ".")
			if err := mime.AddExtensionType(ext, typ); err != nil {
				return nil, fmt.Errorf("cannot register %s for %s: %w", typ, ext, err)
			}
		}
	}
	return func(next Link) Link {
		return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
			reply, err := next(ctx, h, req)
			resp, ok := reply.(*Response)
			if !ok || err != nil || resp.Headers.Get("content-type") != "" {
				return reply, err
			}
			typ := mime.TypeByExtension(path.Ext(req.Path))
			if typ == "" {
				typ = def
			}
			resp.Headers.Set("content-type", typ)
			return resp, nil
		}
	}, nil
}

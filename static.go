package relay

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Static returns a middleware that serves the files below dir, relative to
// root, for GET and HEAD requests. Requests for anything that isn't a file
// there continue down the chain. Paths containing "../" are answered with a
// 404.
//
// Responses carry last-modified, content-length and etag headers, and a
// client that presents matching if-modified-since / if-none-match headers
// gets a 304 instead of the file. Files are streamed in DefaultChunkSize
// chunks. HEAD requests get the same headers without the body.
//
// Static fails with ErrNotADirectory if dir isn't a directory.
func Static(dir, root string) (Middleware, error) {
	if root == "" {
		root = "."
	}
	base, err := filepath.Abs(filepath.Join(root, dir))
	if err != nil {
		return nil, err
	}
	if fi, err := os.Stat(base); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, base)
	}

	return func(next Link) Link {
		return func(ctx context.Context, h Handler, req *Request) (Reply, error) {
			if req.Method != "GET" && req.Method != "HEAD" {
				return next(ctx, h, req)
			}
			if strings.Contains(req.Path, "../") {
				return NotFound(""), nil
			}
			file, fi := lookupFile(base, req.Path)
			if fi == nil {
				return next(ctx, h, req)
			}

			headers := cachingHeaders(fi)
			if clientHasCurrentCopy(req.Headers, headers) {
				return NotModified(headers), nil
			}
			if req.Method == "HEAD" {
				return &Response{Status: 200, Headers: headers}, nil
			}
			return FileStream(file, headers, DefaultChunkSize), nil
		}
	}, nil
}

// lookupFile resolves the request path below base and returns it if it's a
// regular file.
func lookupFile(base, reqPath string) (string, os.FileInfo) {
	if strings.ContainsRune(reqPath, 0) {
		return "", nil
	}
	file := filepath.Join(base, filepath.FromSlash(strings.TrimLeft(reqPath, "/")))
	if file != base && !strings.HasPrefix(file, base+string(filepath.Separator)) {
		return "", nil
	}
	fi, err := os.Stat(file)
	if err != nil || !fi.Mode().IsRegular() {
		return "", nil
	}
	return file, fi
}

func cachingHeaders(fi os.FileInfo) Header {
	mtime := float64(fi.ModTime().UnixNano()) / 1e9
	sum := md5.Sum([]byte(strconv.FormatFloat(mtime, 'f', -1, 64) + "-" + strconv.FormatInt(fi.Size(), 10)))
	return NewHeader(
		"last-modified", fi.ModTime().UTC().Format(http.TimeFormat),
		"content-length", strconv.FormatInt(fi.Size(), 10),
		"etag", hex.EncodeToString(sum[:]),
	)
}

// clientHasCurrentCopy reports whether the client sent at least one caching
// header and all of the ones it sent match the file.
func clientHasCurrentCopy(client, file Header) bool {
	matched := false
	for _, pair := range [][2]string{
		{"if-modified-since", "last-modified"},
		{"if-none-match", "etag"},
	} {
		v, ok := client.Lookup(pair[0])
		if !ok {
			continue
		}
		if v != file.Get(pair[1]) {
			return false
		}
		matched = true
	}
	return matched
}

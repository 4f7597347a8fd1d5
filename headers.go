package relay

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// HeaderPair is one raw header line as delivered to or from the transport.
type HeaderPair struct {
	Name, Value []byte
}

// Pair builds a HeaderPair from strings.
func Pair(name, value string) HeaderPair {
	return HeaderPair{[]byte(name), []byte(value)}
}

// Header is a case-insensitive header mapping that remembers the order in
// which names were first set. The zero value is an empty Header ready to use.
type Header struct {
	fields []headerField
}

type headerField struct {
	name, value string
}

// NewHeader builds a Header from alternating name/value arguments.
func NewHeader(nameValues ...string) Header {
	if len(nameValues)%2 != 0 {
		panic("NewHeader requires an even number of arguments")
	}
	var h Header
	for i := 0; i < len(nameValues); i += 2 {
		h.Set(nameValues[i], nameValues[i+1])
	}
	return h
}

func (h *Header) index(name string) int {
	for i, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return i
		}
	}
	return -1
}

// Get returns the value for name, or "" if it isn't set.
func (h Header) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the value for name and whether it was set.
func (h Header) Lookup(name string) (string, bool) {
	if i := h.index(name); i >= 0 {
		return h.fields[i].value, true
	}
	return "", false
}

// Set replaces the value for name, keeping its original position if it was
// already present.
func (h *Header) Set(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].value = value
		return
	}
	h.fields = append(h.fields, headerField{name, value})
}

// Del removes name.
func (h *Header) Del(name string) {
	if i := h.index(name); i >= 0 {
		h.fields = append(h.fields[:i:i], h.fields[i+1:]...)
	}
}

// Len returns the number of distinct names.
func (h Header) Len() int { return len(h.fields) }

// Names returns the names in insertion order.
func (h Header) Names() []string {
	names := make([]string, len(h.fields))
	for i, f := range h.fields {
		names[i] = f.name
	}
	return names
}

// Map returns a plain map copy of the header, mostly useful in tests.
func (h Header) Map() map[string]string {
	m := make(map[string]string, len(h.fields))
	for _, f := range h.fields {
		m[f.name] = f.value
	}
	return m
}

// Clone returns an independent copy of h.
func (h Header) Clone() Header {
	return Header{append([]headerField(nil), h.fields...)}
}

// FoldHeaders decodes the raw header list into a Header. Names are lowercased
// and values of repeated names are joined with "," in the order they were
// received.
//
// This deliberately loses information for repeated headers such as cookies
// (RFC 7230, RFC 6265); the raw list stays available on the Request for
// anything that needs the exact semantics.
func FoldHeaders(pairs []HeaderPair) (Header, error) {
	var h Header
	for _, p := range pairs {
		if !utf8.Valid(p.Name) || !utf8.Valid(p.Value) {
			return Header{}, &ConnectivityError{Reason: fmt.Sprintf("header %q is not valid utf-8", p.Name)}
		}
		name, value := strings.ToLower(string(p.Name)), string(p.Value)
		if i := h.index(name); i >= 0 {
			h.fields[i].value += "," + value
		} else {
			h.fields = append(h.fields, headerField{name, value})
		}
	}
	return h, nil
}

// SerializeHeaders turns the header mapping back into an ordered list of raw
// pairs, followed by one Set-Cookie pair per serialized cookie.
func SerializeHeaders(h Header, setCookies []string) ([]HeaderPair, error) {
	out := make([]HeaderPair, 0, len(h.fields)+len(setCookies))
	for _, f := range h.fields {
		if err := checkHeaderField(f.name, f.value); err != nil {
			return nil, err
		}
		out = append(out, Pair(f.name, f.value))
	}
	for _, c := range setCookies {
		if err := checkHeaderField("Set-Cookie", c); err != nil {
			return nil, err
		}
		out = append(out, Pair("Set-Cookie", c))
	}
	return out, nil
}

func checkHeaderField(name, value string) error {
	if name == "" || !utf8.ValidString(name) || strings.ContainsAny(name, " \t\r\n:") {
		return fmt.Errorf("cannot encode header name %q", name)
	}
	if !utf8.ValidString(value) || strings.ContainsAny(value, "\r\n\x00") {
		return fmt.Errorf("cannot encode value of header %q", name)
	}
	return nil
}

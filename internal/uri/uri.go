// Package uri defines the crawleable URI model shared by the frontier, its
// workers, and every collaborator that keys data by URI.
package uri

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// Type tags how a URI is expected to be crawled.
type Type string

// Crawl types recognized by the frontier.
const (
	TypeDump            Type = "DUMP"
	TypeSparql          Type = "SPARQL"
	TypeDereferenceable Type = "DEREFERENCEABLE"
	TypeUnknown         Type = "UNKNOWN"
)

// Well-known metadata keys.
const (
	// KeyType carries the seed-declared type of a URI.
	KeyType = "type"
	// KeyDiscoveredFrom names the URI whose crawl discovered this one.
	KeyDiscoveredFrom = "discovered_from"
)

// ParseType maps a case-insensitive tag onto a Type. Unrecognized input
// yields TypeUnknown and false.
func ParseType(s string) (Type, bool) {
	switch Type(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeDump:
		return TypeDump, true
	case TypeSparql:
		return TypeSparql, true
	case TypeDereferenceable:
		return TypeDereferenceable, true
	case TypeUnknown:
		return TypeUnknown, true
	default:
		return TypeUnknown, false
	}
}

var errEmptyURI = errors.New("uri is empty")

// CrawleableURI is a URI plus the scheduling data the frontier attaches to it.
// Identity for deduplication is the normalized URI text; Data is never part of
// identity.
type CrawleableURI struct {
	URI  string         `json:"uri"`
	IP   netip.Addr     `json:"ip,omitzero"`
	Type Type           `json:"type,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// New validates raw as an absolute URI and wraps it.
func New(raw string) (CrawleableURI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CrawleableURI{}, errEmptyURI
	}
	u, err := url.Parse(raw)
	if err != nil {
		return CrawleableURI{}, fmt.Errorf("parse uri: %w", err)
	}
	if !u.IsAbs() {
		return CrawleableURI{}, fmt.Errorf("uri %q is not absolute", raw)
	}
	return CrawleableURI{URI: raw, Type: TypeUnknown}, nil
}

// MustNew is New for literals in tests and defaults. It panics on bad input.
func MustNew(raw string) CrawleableURI {
	c, err := New(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// Parsed returns the parsed form of the URI.
func (c CrawleableURI) Parsed() (*url.URL, error) {
	u, err := url.Parse(c.URI)
	if err != nil {
		return nil, fmt.Errorf("parse uri: %w", err)
	}
	return u, nil
}

// Scheme returns the lowercased scheme or "" when the URI does not parse.
func (c CrawleableURI) Scheme() string {
	u, err := c.Parsed()
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Host returns the hostname without port, or "" when absent.
func (c CrawleableURI) Host() string {
	u, err := c.Parsed()
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Resolved reports whether a network address has been attached.
func (c CrawleableURI) Resolved() bool {
	return c.IP.IsValid()
}

// Get returns the metadata value stored under key.
func (c CrawleableURI) Get(key string) (any, bool) {
	if c.Data == nil {
		return nil, false
	}
	v, ok := c.Data[key]
	return v, ok
}

// GetString returns the metadata value under key when it is a string.
func (c CrawleableURI) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// WithData returns a copy carrying key=value in its metadata.
func (c CrawleableURI) WithData(key string, value any) CrawleableURI {
	out := c.Clone()
	if out.Data == nil {
		out.Data = make(map[string]any, 1)
	}
	out.Data[key] = value
	return out
}

// Clone returns a copy whose metadata map is not shared with c.
func (c CrawleableURI) Clone() CrawleableURI {
	out := c
	if c.Data != nil {
		out.Data = make(map[string]any, len(c.Data))
		for k, v := range c.Data {
			out.Data[k] = v
		}
	}
	return out
}

// String implements fmt.Stringer.
func (c CrawleableURI) String() string {
	return c.URI
}

// DatePair couples a URI with the time it becomes eligible for crawling. A
// zero Date means immediately.
type DatePair struct {
	URI  CrawleableURI `json:"uri"`
	Date time.Time     `json:"date,omitzero"`
}

// Pairs wraps each URI in a DatePair with the same date.
func Pairs(date time.Time, uris ...CrawleableURI) []DatePair {
	out := make([]DatePair, 0, len(uris))
	for _, c := range uris {
		out = append(out, DatePair{URI: c, Date: date})
	}
	return out
}

// URIs unwraps the URIs of pairs, preserving order.
func URIs(pairs []DatePair) []CrawleableURI {
	out := make([]CrawleableURI, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.URI)
	}
	return out
}

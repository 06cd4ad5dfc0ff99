// Package norm canonicalizes URI text so that syntactically different URIs
// naming the same resource compare equal.
package norm

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/uri"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalizer applies Canonical to CrawleableURIs and logs rebuild failures.
type Normalizer struct {
	logger *zap.Logger
}

// New creates a Normalizer. A nil logger discards output.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize returns c with its URI in canonical form. Metadata, address, and
// type are carried over untouched. When no rule applies, or the rebuilt URI
// is not valid, c is returned as is.
func (n *Normalizer) Normalize(c uri.CrawleableURI) uri.CrawleableURI {
	out, changed, err := Canonical(c.URI)
	if err != nil {
		n.logger.Warn("uri normalization failed; keeping original",
			zap.String("uri", c.URI),
			zap.Error(err),
		)
		return c
	}
	if !changed {
		return c
	}
	normalized := c.Clone()
	normalized.URI = out
	return normalized
}

// Key returns the identity string used for deduplication.
func (n *Normalizer) Key(c uri.CrawleableURI) string {
	return n.Normalize(c).URI
}

// Canonical rewrites raw and reports whether any rule changed it:
//   - query tokens are sorted as whole strings; an empty query is dropped
//   - the scheme's default port is removed
//   - an empty path becomes "/"; otherwise unreserved percent-escapes are
//     decoded, dot-segments resolved, and repeated slashes collapsed
//   - the fragment is removed
func Canonical(raw string) (string, bool, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, false, fmt.Errorf("parse uri: %w", err)
	}
	if err := checkAuthority(u.Host); err != nil {
		return raw, false, err
	}
	changed := false

	if strings.IndexByte(raw, '#') >= 0 {
		u.Fragment = ""
		u.RawFragment = ""
		changed = true
	}

	if u.RawQuery != "" {
		tokens := strings.Split(u.RawQuery, "&")
		sort.Strings(tokens)
		if sorted := strings.Join(tokens, "&"); sorted != u.RawQuery {
			u.RawQuery = sorted
			changed = true
		}
	} else if u.ForceQuery {
		u.ForceQuery = false
		changed = true
	}

	if port := u.Port(); port != "" && defaultPorts[strings.ToLower(u.Scheme)] == port {
		u.Host = strings.TrimSuffix(u.Host, ":"+port)
		changed = true
	}

	if u.Opaque == "" {
		escaped := u.EscapedPath()
		next := escaped
		if next == "" {
			if u.Host != "" {
				next = "/"
			}
		} else {
			next = collapseSlashes(removeDotSegments(decodeUnreserved(next)))
		}
		if next != escaped {
			unescaped, err := url.PathUnescape(next)
			if err != nil {
				return raw, false, fmt.Errorf("rebuild path: %w", err)
			}
			u.Path = unescaped
			u.RawPath = next
			changed = true
		}
	}

	if !changed {
		return raw, false, nil
	}
	out := u.String()
	if _, err := url.Parse(out); err != nil {
		return raw, false, fmt.Errorf("rebuild uri: %w", err)
	}
	return out, true, nil
}

// checkAuthority rejects hosts url.Parse lets through with more than one port
// separator, such as "h.example:80:80".
func checkAuthority(host string) error {
	if strings.LastIndexByte(host, ':') <= strings.LastIndexByte(host, ']') {
		return nil
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		return fmt.Errorf("invalid authority %q: %w", host, err)
	}
	return nil
}

func decodeUnreserved(p string) string {
	if strings.IndexByte(p, '%') < 0 {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '%' && i+2 < len(p) && isHex(p[i+1]) && isHex(p[i+2]) {
			c := unhex(p[i+1])<<4 | unhex(p[i+2])
			if isUnreserved(c) {
				b.WriteByte(c)
				i += 2
				continue
			}
		}
		b.WriteByte(p[i])
	}
	return b.String()
}

// removeDotSegments resolves "." and ".." segments (RFC 3986, 5.2.4).
func removeDotSegments(p string) string {
	if !strings.Contains(p, ".") {
		return p
	}
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	last := len(segs) - 1
	for i, s := range segs {
		switch s {
		case ".":
			if i == last {
				out = append(out, "")
			}
		case "..":
			if len(out) > 1 || (len(out) == 1 && out[0] != "") {
				out = out[:len(out)-1]
			}
			if i == last {
				out = append(out, "")
			}
		default:
			out = append(out, s)
		}
	}
	res := strings.Join(out, "/")
	if strings.HasPrefix(p, "/") && !strings.HasPrefix(res, "/") {
		res = "/" + res
	}
	return res
}

func collapseSlashes(p string) string {
	if !strings.Contains(p, "//") {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(p[i])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

package filter

import (
	"strings"

	"github.com/JakeFAU/ld-frontier/internal/uri"
)

// DefaultSchemes are the schemes a worker can fetch out of the box.
var DefaultSchemes = []string{"http", "https"}

// SchemeFilter accepts URIs whose scheme is on a fixed allow-list.
type SchemeFilter struct {
	allowed map[string]struct{}
}

// NewSchemeFilter builds a SchemeFilter. An empty list means DefaultSchemes.
func NewSchemeFilter(schemes []string) *SchemeFilter {
	if len(schemes) == 0 {
		schemes = DefaultSchemes
	}
	allowed := make(map[string]struct{}, len(schemes))
	for _, s := range schemes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			allowed[s] = struct{}{}
		}
	}
	return &SchemeFilter{allowed: allowed}
}

// IsAcceptable reports whether c's scheme is allowed.
func (f *SchemeFilter) IsAcceptable(c uri.CrawleableURI) bool {
	_, ok := f.allowed[c.Scheme()]
	return ok
}

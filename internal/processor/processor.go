// Package processor resolves a URI's host address and classifies how it
// should be crawled.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/ld-frontier/internal/uri"
)

// ErrNotResolvable is returned when a URI's host has no usable address.
var ErrNotResolvable = errors.New("host not resolvable")

// DefaultResolveTimeout bounds a single lookup.
const DefaultResolveTimeout = 5 * time.Second

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Processor is the address resolver and crawl-type classifier.
type Processor struct {
	resolver Resolver
	timeout  time.Duration
}

// New creates a Processor. A nil resolver means net.DefaultResolver.
func New(resolver Resolver, timeout time.Duration) *Processor {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &Processor{resolver: resolver, timeout: timeout}
}

// ResolveAddress returns the address c's host resolves to, preferring IPv4.
// An already resolved URI is returned as is.
func (p *Processor) ResolveAddress(ctx context.Context, c uri.CrawleableURI) (netip.Addr, error) {
	if c.Resolved() {
		return c.IP, nil
	}
	host := c.Host()
	if host == "" {
		return netip.Addr{}, fmt.Errorf("%w: %q has no host", ErrNotResolvable, c.URI)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	addrs, err := p.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %w", ErrNotResolvable, host, err)
	}
	var fallback netip.Addr
	for _, a := range addrs {
		a = a.Unmap()
		if !a.IsValid() {
			continue
		}
		if a.Is4() {
			return a, nil
		}
		if !fallback.IsValid() {
			fallback = a
		}
	}
	if !fallback.IsValid() {
		return netip.Addr{}, fmt.Errorf("%w: %s: no addresses", ErrNotResolvable, host)
	}
	return fallback, nil
}

// Process resolves and classifies c, returning an updated copy.
func (p *Processor) Process(ctx context.Context, c uri.CrawleableURI) (uri.CrawleableURI, error) {
	addr, err := p.ResolveAddress(ctx, c)
	if err != nil {
		return c, err
	}
	out := c.Clone()
	out.IP = addr
	out.Type = Classify(out)
	return out, nil
}

var dumpExtensions = map[string]struct{}{
	".gz": {}, ".bz2": {}, ".zip": {}, ".tar": {}, ".tgz": {}, ".xz": {}, ".7z": {},
	".nt": {}, ".nq": {}, ".ttl": {}, ".n3": {}, ".rdf": {}, ".owl": {},
	".jsonld": {}, ".trig": {}, ".trix": {}, ".hdt": {},
}

// Classify returns the crawl type of c. It never fails; UNKNOWN is the
// fallback. A seed-declared type in metadata wins over URI heuristics.
func Classify(c uri.CrawleableURI) uri.Type {
	if c.Type != "" && c.Type != uri.TypeUnknown {
		return c.Type
	}
	if hint, ok := uri.ParseType(c.GetString(uri.KeyType)); ok && hint != uri.TypeUnknown {
		return hint
	}
	u, err := c.Parsed()
	if err != nil {
		return uri.TypeUnknown
	}
	p := strings.ToLower(u.Path)
	if strings.Contains(p, "sparql") {
		return uri.TypeSparql
	}
	if _, ok := dumpExtensions[path.Ext(p)]; ok {
		return uri.TypeDump
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host != "" {
			return uri.TypeDereferenceable
		}
	}
	return uri.TypeUnknown
}

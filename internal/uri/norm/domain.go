package norm

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DomainVariant returns scheme://<registrable domain>/ for raw, so
// "http://a.b.example.co.uk/x" yields "http://example.co.uk/". Hosts that are
// IP literals or public suffixes themselves return an error.
func DomainVariant(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse uri: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("uri %q has no host", raw)
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return "", fmt.Errorf("host %q is an ip literal", host)
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("registrable domain of %q: %w", host, err)
	}
	return strings.ToLower(u.Scheme) + "://" + domain + "/", nil
}

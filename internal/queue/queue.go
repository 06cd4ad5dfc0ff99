// Package queue holds admitted URIs until a worker asks for them.
//
// PolitenessQueue enforces one in-flight URI per host address. PlainQueue
// ignores hosts entirely; the frontier detects the difference through the
// HostAware interface.
package queue

import (
	"errors"
	"net/netip"
	"time"

	"github.com/JakeFAU/ld-frontier/internal/uri"
)

// ErrNoAddress rejects URIs that reach a host-aware queue unresolved.
var ErrNoAddress = errors.New("uri has no resolved address")

// Queue provides admission and batch dispatch.
type Queue interface {
	// AddURI appends c. A non-zero at in the future defers dispatch until then.
	AddURI(c uri.CrawleableURI, at time.Time) error
	// NextURIs removes and returns the currently dispatchable entries. It
	// never blocks; an empty batch is a valid answer.
	NextURIs() []uri.CrawleableURI
	PendingCount() int
	Close() error
}

// HostAware is implemented by queues that track busy hosts.
type HostAware interface {
	// MarkHostAccessible frees addr. It reports false when addr was not busy.
	MarkHostAccessible(addr netip.Addr) bool
	BlockedHostCount() int
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type entry struct {
	uri uri.CrawleableURI
	at  time.Time
}

func (e *entry) eligible(now time.Time) bool {
	return e.at.IsZero() || !e.at.After(now)
}

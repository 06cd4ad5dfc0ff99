package queue

import (
	"container/list"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/uri"
)

// PolitenessQueue dispatches at most one URI per host address at a time. A
// host stays busy from dispatch until MarkHostAccessible is called for it.
type PolitenessQueue struct {
	mu          sync.Mutex
	pending     *list.List // *entry, admission order
	hostPending map[netip.Addr]int
	busy        map[netip.Addr]dispatch
	// abandoned holds URIs whose host ReleaseStale freed, keyed by URI with
	// the release time. Their late completions must not free the host again.
	abandoned map[string]time.Time
	clock     Clock
	maxBatch  int
	logger    *zap.Logger
}

type dispatch struct {
	uri   string
	since time.Time
}

// abandonedRetention bounds how long, in multiples of the stale timeout, a
// stale-released URI is remembered.
const abandonedRetention = 10

// NewPolitenessQueue creates an empty queue. maxBatch <= 0 means unlimited.
func NewPolitenessQueue(clock Clock, maxBatch int, logger *zap.Logger) *PolitenessQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolitenessQueue{
		pending:     list.New(),
		hostPending: make(map[netip.Addr]int),
		busy:        make(map[netip.Addr]dispatch),
		abandoned:   make(map[string]time.Time),
		clock:       clock,
		maxBatch:    maxBatch,
		logger:      logger.Named("politeness_queue"),
	}
}

// AddURI appends c to the pending list.
func (q *PolitenessQueue) AddURI(c uri.CrawleableURI, at time.Time) error {
	if !c.IP.IsValid() {
		q.logger.Error("dropping unresolved uri", zap.String("uri", c.URI))
		return ErrNoAddress
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.PushBack(&entry{uri: c, at: at})
	q.hostPending[c.IP]++
	return nil
}

// NextURIs scans pending entries in admission order and takes the first
// eligible entry of every free host, marking that host busy.
func (q *PolitenessQueue) NextURIs() []uri.CrawleableURI {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	free := 0
	for addr := range q.hostPending {
		if _, busy := q.busy[addr]; !busy {
			free++
		}
	}
	var batch []uri.CrawleableURI
	for el := q.pending.Front(); el != nil && free > 0; {
		next := el.Next()
		e := el.Value.(*entry)
		addr := e.uri.IP
		if _, busy := q.busy[addr]; !busy && e.eligible(now) {
			q.pending.Remove(el)
			q.hostPending[addr]--
			if q.hostPending[addr] == 0 {
				delete(q.hostPending, addr)
			}
			q.busy[addr] = dispatch{uri: e.uri.URI, since: now}
			free--
			batch = append(batch, e.uri)
			if q.maxBatch > 0 && len(batch) >= q.maxBatch {
				break
			}
		}
		el = next
	}
	return batch
}

// MarkHostAccessible clears addr's busy flag. Releasing a host that is not
// busy is a caller bug; it is logged and otherwise ignored.
func (q *PolitenessQueue) MarkHostAccessible(addr netip.Addr) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.busy[addr]; !ok {
		q.logger.Error("release of host that is not busy", zap.Stringer("addr", addr))
		return false
	}
	delete(q.busy, addr)
	return true
}

// ReleaseFor frees the host c was dispatched to. When c's host was already
// freed by ReleaseStale the report is late: the host may be serving another
// worker by now, so it is left alone and late is true.
func (q *PolitenessQueue) ReleaseFor(c uri.CrawleableURI) (released, late bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, busy := q.busy[c.IP]
	if busy && d.uri == c.URI {
		delete(q.busy, c.IP)
		delete(q.abandoned, c.URI)
		return true, false
	}
	if _, ok := q.abandoned[c.URI]; ok {
		delete(q.abandoned, c.URI)
		q.logger.Warn("ignoring late completion of stale dispatch",
			zap.String("uri", c.URI),
			zap.Stringer("addr", c.IP),
		)
		return false, true
	}
	if !busy {
		q.logger.Error("release of host that is not busy", zap.Stringer("addr", c.IP))
		return false, false
	}
	delete(q.busy, c.IP)
	return true, false
}

// ReleaseStale frees every host that has been busy longer than olderThan and
// returns them.
func (q *PolitenessQueue) ReleaseStale(olderThan time.Duration) []netip.Addr {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	cutoff := now.Add(-olderThan)
	for u, at := range q.abandoned {
		if at.Before(now.Add(-abandonedRetention * olderThan)) {
			delete(q.abandoned, u)
		}
	}
	var released []netip.Addr
	for addr, d := range q.busy {
		if d.since.Before(cutoff) {
			delete(q.busy, addr)
			q.abandoned[d.uri] = now
			released = append(released, addr)
		}
	}
	return released
}

// PendingCount returns the number of undispatched entries.
func (q *PolitenessQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// BlockedHostCount returns the number of busy hosts.
func (q *PolitenessQueue) BlockedHostCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.busy)
}

// Close drops all state.
func (q *PolitenessQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.Init()
	clear(q.hostPending)
	clear(q.busy)
	clear(q.abandoned)
	return nil
}

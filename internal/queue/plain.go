package queue

import (
	"container/list"
	"sync"
	"time"

	"github.com/JakeFAU/ld-frontier/internal/uri"
)

// PlainQueue is a FIFO with no host bookkeeping.
type PlainQueue struct {
	mu       sync.Mutex
	pending  *list.List
	clock    Clock
	maxBatch int
}

// NewPlainQueue creates an empty queue. maxBatch <= 0 means unlimited.
func NewPlainQueue(clock Clock, maxBatch int) *PlainQueue {
	return &PlainQueue{pending: list.New(), clock: clock, maxBatch: maxBatch}
}

// AddURI appends c.
func (q *PlainQueue) AddURI(c uri.CrawleableURI, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.PushBack(&entry{uri: c, at: at})
	return nil
}

// NextURIs returns eligible entries in admission order.
func (q *PlainQueue) NextURIs() []uri.CrawleableURI {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	var batch []uri.CrawleableURI
	for el := q.pending.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*entry); e.eligible(now) {
			q.pending.Remove(el)
			batch = append(batch, e.uri)
			if q.maxBatch > 0 && len(batch) >= q.maxBatch {
				break
			}
		}
		el = next
	}
	return batch
}

// PendingCount returns the number of undispatched entries.
func (q *PlainQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Close drops all entries.
func (q *PlainQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.Init()
	return nil
}

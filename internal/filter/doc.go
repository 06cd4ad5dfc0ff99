// Package filter holds the admission predicates the frontier applies before a
// URI reaches the politeness queue: a static scheme allow-list and the
// known-URI filter that enforces deduplication and the recrawl interval.
//
// The known-URI filter keeps its records in a RecordStore. Stores that can
// enumerate their keys (Scanner) warm an in-process bloom filter on Open, so
// most never-seen URIs are answered without a store round trip.
package filter

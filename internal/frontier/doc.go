// Package frontier is the scheduling authority of the crawler. A Frontier owns
// one queue and one known-URI filter and ties them to the scheme filter, the
// URI processor, and an optional crawl-graph logger.
//
// Admission runs scheme filter, known-URI filter, address resolution, and
// classification, in that order. Every URI gets an Outcome; a bad URI never
// aborts the rest of its batch. When the known-URI filter cannot be queried
// the URI is dropped, so an outage costs recrawl opportunities rather than
// producing duplicate work.
package frontier

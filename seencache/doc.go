// Package seencache provides the bounded dedup set behind packet
// flooding. A token is a (seqno, id) pair rendered as a string; a node
// records one token per packet per peer it has heard the packet from,
// plus one for itself once the packet is delivered locally.
//
// The cache combines an LRU size cap with per-entry expiry. Every touch,
// whether a Has hit or a re-Add, pushes the entry to the front of the
// LRU order and resets its deadline, so tokens still circulating in the
// peer graph stay live while stale ones age out. Add performs an atomic
// check-and-set under the cache lock: of any number of concurrent Adds
// for one token, exactly one observes it as new.
//
// A background goroutine sweeps expired entries so an idle cache drains
// to empty without waiting for the next lookup.
package seencache

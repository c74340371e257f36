// Package transport defines how encoded packets move between neighbors
// and provides two implementations.
//
// Memory is an in-process fabric with explicitly wired edges, used in
// tests to build exact topologies. NATS carries packets over a NATS
// server: one inbox subject per node for data, one shared presence
// subject for membership.
//
// Transports deal in opaque byte slices. Encoding, dedup, and fan-out
// all happen above this package.
package transport

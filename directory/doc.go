// Package directory tracks the neighbors a node fans packets out to.
//
// Two strategies cover the two ways membership reaches a node. A
// PushDirectory is fed by the transport as neighbors come and go. A
// PullDirectory wraps a lookup function and fetches on demand, with
// overlapping fetches coalesced, for transports that can only answer
// "who is around right now" when asked.
package directory

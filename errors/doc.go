// Package errors provides standardized error handling patterns for the
// broadcast engine and its collaborators.
//
// # Overview
//
// The package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input, non-retryable),
// and Fatal (unrecoverable, stop processing).
//
// Classification lets callers make informed decisions about retries and
// degradation without hardcoded error string matching. On the broadcast
// data path nothing is retried by the engine itself - flooding redundancy
// is the reliability mechanism - but transports use the classification to
// decide whether connection establishment is worth retrying.
//
// # Quick Start
//
// Use standard error variables for known conditions:
//
//	if b.State() != broadcast.StateOpen {
//	    return errors.ErrNotOpen
//	}
//
// Wrap errors with context for debugging:
//
//	if err := codec.Encode(pkt); err != nil {
//	    return errors.WrapInvalid(err, "engine", "Publish", "encode packet")
//	}
//
// Check classification for handling logic:
//
//	if errors.IsTransient(err) {
//	    // report and move on; another path may still deliver
//	}
//
// The classification system integrates with Go's standard error handling,
// supporting errors.Is(), errors.As(), and error wrapping chains.
package errors

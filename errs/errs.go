// Package errs names the error kinds the consensus engine distinguishes at
// the logging boundary, without forcing callers into string matching.
package errs

import "errors"

var (
	// ErrValidation marks a rejected message: bad prev-hash, bad height,
	// bad leader, bad hash, bad signature. The offending message is
	// dropped; consensus state is not mutated.
	ErrValidation = errors.New("validation error")

	// ErrTransport marks a connection-level failure: reset, broken pipe,
	// timeout, short read. The connection is closed and removed.
	ErrTransport = errors.New("transport error")

	// ErrStore marks an I/O failure in the Chain Store. The caller must
	// abort the in-progress commit and release its guard.
	ErrStore = errors.New("store error")

	// ErrProtocol marks a framing or envelope violation: oversized frame,
	// undecodable envelope, unknown message type.
	ErrProtocol = errors.New("protocol violation")

	// ErrInternalInvariant marks a condition that should be impossible if
	// every replica is honest and the protocol is implemented correctly:
	// height regression, quorum without a pending proposal, a COMMIT whose
	// hash doesn't match the local proposal.
	ErrInternalInvariant = errors.New("internal invariant violation")
)

package lidgren

import "errors"

// Sentinel errors surfaced to the embedder (spec.md §7).
var (
	ErrMalformedHeader        = errors.New("lidgren: malformed datagram header")
	ErrNotRunning             = errors.New("lidgren: peer is not running")
	ErrShutdown               = errors.New("lidgren: peer is shutting down")
	ErrConnectionTimedOut     = errors.New("lidgren: connection timed out")
	ErrAppIdentifierMismatch  = errors.New("lidgren: application identifier mismatch")
	ErrServerFull             = errors.New("lidgren: server full")
	ErrConnectionDenied       = errors.New("lidgren: connection denied by application")
	ErrHandshakeTimedOut      = errors.New("lidgren: handshake retry attempts exhausted")
	ErrMessageTooLarge        = errors.New("lidgren: message exceeds maximum transmission unit")
	ErrPoolMisuse             = errors.New("lidgren: message returned to pool more than once")
	ErrNoConnection           = errors.New("lidgren: no such connection")
)

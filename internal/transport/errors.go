package transport

import "errors"

// ErrAuthMissing is returned by Open when no player token is available. The
// open attempt fails locally, before any network I/O.
var ErrAuthMissing = errors.New("no auth token for channel open")

// ErrManagerClosed is returned by Open after the manager has shut down.
var ErrManagerClosed = errors.New("transport manager closed")

// ConnectionError wraps a transport-level failure (dial, handshake, read).
// It is advisory: the connection retries on its own, distinct from an
// application-level rejection which arrives as a system:error frame.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

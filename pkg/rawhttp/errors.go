package rawhttp

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a send, upload or download is attempted while
	// another operation is still in flight on the same connection.
	ErrBusy = errors.New("another operation is already in flight")

	// ErrNotConnected is returned when an operation is attempted on a
	// connection that is not established and cannot be re-established.
	ErrNotConnected = errors.New("connection is not established")

	// ErrCancelled is returned when an in-flight upload or download is
	// cancelled by the caller. Partially written files are left on disk
	// for the caller to clean up.
	ErrCancelled = errors.New("operation cancelled")
)

// ConnectionError wraps socket-level failures (dial, write, read, timeout).
// Errors of this kind are considered retryable by commands.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError reports an exchange the peer answered with an unexpected
// status code or an unparsable/misshaped body. The connection's framing
// state cannot be trusted after one of these, so callers terminate the
// connection before surfacing it.
type ProtocolError struct {
	Status  int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("protocol error: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("protocol error: status %d: %s", e.Status, e.Message)
}

// IsRetryable reports whether an error should be classified as retryable
// by a command. Connection-level failures are retryable because the link
// may come back; everything else (protocol, cancellation, validation) is
// terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var connErr *ConnectionError
	return errors.As(err, &connErr) || errors.Is(err, ErrNotConnected)
}

package wtl

import (
	"errors"
	"fmt"
)

// Standard errors returned by the WTL debugger client.
var (
	// ErrSessionClosed indicates an operation was attempted after Stop or after
	// the peer closed the connection.
	ErrSessionClosed = errors.New("wtl debugger session closed")

	// ErrPeerClosed indicates the peer closed the stream (zero-length read).
	ErrPeerClosed = errors.New("connection closed by peer")

	// ErrInvalidBreakpoint indicates a breakpoint filter could not be encoded.
	ErrInvalidBreakpoint = errors.New("invalid breakpoint filter")
)

// ConnectionError reports a failure to establish or maintain the transport.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("wtl %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("wtl %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolDecodeError reports inbound bytes that can never form a valid message,
// or a message that violates the correlation rules.
type ProtocolDecodeError struct {
	Reason  string
	Offset  int64
	Snippet string
	Err     error
}

// Error implements the error interface.
func (e *ProtocolDecodeError) Error() string {
	msg := "wtl protocol: " + e.Reason
	if e.Snippet != "" {
		msg += fmt.Sprintf(" near %q", e.Snippet)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProtocolDecodeError) Unwrap() error {
	return e.Err
}

// RemoteError is returned when the peer answers a command with an error status.
type RemoteError struct {
	ID      int
	Status  string
	Payload []byte
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("wtl remote error (id %d, status %q): %s", e.ID, e.Status, e.Payload)
}

// IsFatal reports whether err leaves the session unusable.
func IsFatal(err error) bool {
	var connErr *ConnectionError
	var decodeErr *ProtocolDecodeError
	return errors.Is(err, ErrSessionClosed) || errors.As(err, &connErr) || errors.As(err, &decodeErr)
}

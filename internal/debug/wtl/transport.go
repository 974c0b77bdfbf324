package wtl

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultHost is the host dialed when none is given.
const DefaultHost = "localhost"

// Transport is a connected byte stream to the WTL debugger.
type Transport interface {
	// Send writes all of p as a single command. Nothing is buffered.
	Send(p []byte) error

	// Receive reads into p, blocking until data arrives. It returns (0, io.EOF)
	// once the peer has closed the stream.
	Receive(p []byte) (int, error)

	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// ReadDeadliner is implemented by transports that support read deadlines.
type ReadDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// SocketTransport implements Transport over a TCP connection.
type SocketTransport struct {
	conn      net.Conn
	addr      string
	closeOnce sync.Once
	closeErr  error
}

// DialOption configures Dial.
type DialOption func(*net.Dialer)

// WithDialTimeout bounds the time spent connecting.
func WithDialTimeout(d time.Duration) DialOption {
	return func(dl *net.Dialer) {
		dl.Timeout = d
	}
}

// WithKeepAlive sets the TCP keep-alive period.
func WithKeepAlive(d time.Duration) DialOption {
	return func(dl *net.Dialer) {
		dl.KeepAlive = d
	}
}

// Dial connects to the WTL debugger at host:port. An empty host means DefaultHost.
func Dial(ctx context.Context, host string, port int, opts ...DialOption) (*SocketTransport, error) {
	if host == "" {
		host = DefaultHost
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var dialer net.Dialer
	for _, opt := range opts {
		opt(&dialer)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}

	return &SocketTransport{conn: conn, addr: addr}, nil
}

// NewSocketTransportFromConn creates a socket transport from an existing connection.
func NewSocketTransportFromConn(conn net.Conn) *SocketTransport {
	return &SocketTransport{conn: conn, addr: conn.RemoteAddr().String()}
}

// Addr returns the remote address.
func (t *SocketTransport) Addr() string {
	return t.addr
}

// Send writes p to the connection.
func (t *SocketTransport) Send(p []byte) error {
	if _, err := t.conn.Write(p); err != nil {
		return &ConnectionError{Op: "send", Addr: t.addr, Err: err}
	}
	return nil
}

// Receive reads from the connection.
func (t *SocketTransport) Receive(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &ConnectionError{Op: "receive", Addr: t.addr, Err: err}
	}
	return n, err
}

// SetReadDeadline sets the deadline for future Receive calls.
func (t *SocketTransport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

// Close closes the connection.
func (t *SocketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// RawTransport wraps any io.ReadWriteCloser as a Transport.
type RawTransport struct {
	rwc       io.ReadWriteCloser
	closeOnce sync.Once
	closeErr  error
}

// NewRawTransport creates a transport from any ReadWriteCloser.
func NewRawTransport(rwc io.ReadWriteCloser) *RawTransport {
	return &RawTransport{rwc: rwc}
}

// Send writes p to the underlying stream.
func (t *RawTransport) Send(p []byte) error {
	if _, err := t.rwc.Write(p); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// Receive reads from the underlying stream.
func (t *RawTransport) Receive(p []byte) (int, error) {
	n, err := t.rwc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &ConnectionError{Op: "receive", Err: err}
	}
	return n, err
}

// SetReadDeadline forwards to the underlying stream when it supports deadlines.
func (t *RawTransport) SetReadDeadline(d time.Time) error {
	if rd, ok := t.rwc.(ReadDeadliner); ok {
		return rd.SetReadDeadline(d)
	}
	return nil
}

// Close closes the underlying stream.
func (t *RawTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.rwc.Close()
	})
	return t.closeErr
}

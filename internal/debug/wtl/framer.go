package wtl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultReadSize is the size of a single transport read.
	DefaultReadSize = 4096

	// DefaultMaxPendingBytes bounds the bytes buffered while waiting for one
	// complete message.
	DefaultMaxPendingBytes = 1 << 20
)

// jsonSpace is the whitespace JSON permits between values.
const jsonSpace = " \t\r\n"

// Framer extracts whitespace-separated JSON objects from a Transport. The
// stream has no delimiters of its own, so values may arrive split across reads
// or several to a read; unconsumed bytes are kept for the next call.
type Framer struct {
	transport  Transport
	buf        []byte
	chunk      []byte
	maxPending int

	// offset is the stream position of buf[0].
	offset int64
}

// NewFramer creates a framer reading from t. A maxPending of zero or less
// selects DefaultMaxPendingBytes.
func NewFramer(t Transport, maxPending int) *Framer {
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingBytes
	}
	return &Framer{
		transport:  t,
		chunk:      make([]byte, DefaultReadSize),
		maxPending: maxPending,
	}
}

// Buffered returns the number of received bytes not yet consumed.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next returns the next complete JSON object, reading from the transport as
// often as needed. Malformed input fails with *ProtocolDecodeError instead of
// waiting for bytes that cannot repair it; a closed stream fails with
// *ConnectionError wrapping ErrPeerClosed.
func (f *Framer) Next() (json.RawMessage, error) {
	for {
		msg, err := f.decode()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		if len(f.buf) >= f.maxPending {
			return nil, &ProtocolDecodeError{
				Reason:  fmt.Sprintf("no complete message within %d bytes", f.maxPending),
				Offset:  f.offset,
				Snippet: snippet(f.buf),
			}
		}

		if err := f.fill(); err != nil {
			return nil, err
		}
	}
}

// decode attempts to take one value off the front of the buffer. It returns
// a nil message and nil error when more bytes are needed.
func (f *Framer) decode() (json.RawMessage, error) {
	trimmed := bytes.TrimLeft(f.buf, jsonSpace)
	f.offset += int64(len(f.buf) - len(trimmed))
	f.buf = trimmed

	if len(f.buf) == 0 {
		return nil, nil
	}
	if f.buf[0] != '{' {
		return nil, &ProtocolDecodeError{
			Reason:  "message is not a JSON object",
			Offset:  f.offset,
			Snippet: snippet(f.buf),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(f.buf))
	var msg json.RawMessage
	if err := dec.Decode(&msg); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, &ProtocolDecodeError{
			Reason:  "malformed JSON",
			Offset:  f.offset,
			Snippet: snippet(f.buf),
			Err:     err,
		}
	}

	n := dec.InputOffset()
	f.buf = f.buf[n:]
	f.offset += n
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return msg, nil
}

// fill appends one transport read to the buffer. A read never takes the
// buffer past maxPending.
func (f *Framer) fill() error {
	room := min(f.maxPending-len(f.buf), len(f.chunk))
	n, err := f.transport.Receive(f.chunk[:room])
	if n > 0 {
		f.buf = append(f.buf, f.chunk[:n]...)
	}

	switch {
	case errors.Is(err, io.EOF):
		if n > 0 {
			return nil
		}
		return &ConnectionError{Op: "receive", Err: ErrPeerClosed}
	case err != nil:
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return err
		}
		return &ConnectionError{Op: "receive", Err: err}
	case n == 0:
		return &ConnectionError{Op: "receive", Err: ErrPeerClosed}
	}
	return nil
}

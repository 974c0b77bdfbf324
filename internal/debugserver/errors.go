package debugserver

import "errors"

var (
	// ErrNotConnected is reported by Healthy until a front-end has connected
	// and sent step or continue.
	ErrNotConnected = errors.New("debugger front-end is not connected")

	// ErrFrontendGone is reported after the front-end disconnects.
	ErrFrontendGone = errors.New("debugger front-end disconnected")

	// ErrServerClosed is returned by operations on a closed server.
	ErrServerClosed = errors.New("debugger server closed")
)

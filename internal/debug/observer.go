package debug

import (
	"time"

	"github.com/dshills/wtldebug/internal/debug/wtl"
)

// MessageEvent is a status message drained by a session.
type MessageEvent struct {
	// SessionID identifies the session that received the message.
	SessionID string

	// Command is the command whose drain produced the message.
	Command wtl.Command

	// Message is the decoded status message.
	Message wtl.StatusMessage

	// Received is when the message was decoded.
	Received time.Time
}

// CommandEvent describes a finished command.
type CommandEvent struct {
	SessionID string
	Command   string
	Duration  time.Duration
	Err       error
}

// Observer receives session events. Calls happen on the goroutine running the
// session operation, so implementations must not block.
type Observer interface {
	MessageReceived(ev MessageEvent)
	CommandCompleted(ev CommandEvent)
}

// Handlers adapts plain functions to Observer. Nil fields are skipped.
type Handlers struct {
	// OnMessage is called for every drained message, in arrival order.
	OnMessage func(ev MessageEvent)

	// OnCommand is called once an operation returns.
	OnCommand func(ev CommandEvent)
}

// MessageReceived implements Observer.
func (h Handlers) MessageReceived(ev MessageEvent) {
	if h.OnMessage != nil {
		h.OnMessage(ev)
	}
}

// CommandCompleted implements Observer.
func (h Handlers) CommandCompleted(ev CommandEvent) {
	if h.OnCommand != nil {
		h.OnCommand(ev)
	}
}

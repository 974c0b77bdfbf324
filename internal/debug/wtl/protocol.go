package wtl

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Commands understood by the WTL debugger.
const (
	CommandStep             = "step"
	CommandContinue         = "continue"
	CommandStop             = "stop"
	CommandSetBreakpoint    = "set breakpoint"
	CommandDeleteBreakpoint = "delete breakpoint"
)

// Status values sent by the WTL debugger. Any status other than StatusRunning
// ends a drain cycle.
const (
	StatusRunning = "running"
	StatusWaiting = "waiting"
	StatusError   = "error"
)

// Command is an outbound control message.
type Command struct {
	ID         int         `json:"id"`
	Command    string      `json:"command"`
	Breakpoint *Breakpoint `json:"breakpoint,omitempty"`
}

// Breakpoint is the wire descriptor of a breakpoint. Path and Body are regular
// expressions interpreted by the peer; they are passed through untouched.
type Breakpoint struct {
	ID      int      `json:"id"`
	Path    string   `json:"path,omitempty"`
	Methods []string `json:"methods,omitempty"`
	Body    string   `json:"body,omitempty"`
}

// Filter selects the WebDriver commands a breakpoint pauses on. Empty fields
// are left out of the descriptor, and an empty Filter matches every command.
type Filter struct {
	Path    string   `json:"path,omitempty" yaml:"path,omitempty"`
	Methods []string `json:"methods,omitempty" yaml:"methods,omitempty"`
	Body    string   `json:"body,omitempty" yaml:"body,omitempty"`
}

// Validate checks that the filter can be encoded.
func (f Filter) Validate() error {
	for i, m := range f.Methods {
		if m == "" {
			return fmt.Errorf("%w: method %d is empty", ErrInvalidBreakpoint, i)
		}
	}
	return nil
}

// descriptor builds the wire descriptor for id.
func (f Filter) descriptor(id int) *Breakpoint {
	bp := &Breakpoint{ID: id, Path: f.Path, Body: f.Body}
	if len(f.Methods) > 0 {
		bp.Methods = append([]string(nil), f.Methods...)
	}
	return bp
}

// RequestInfo describes the WebDriver command the peer intercepted.
type RequestInfo struct {
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`
	Body   string `json:"body,omitempty"`
}

// StatusMessage is an inbound message from the peer.
type StatusMessage struct {
	// ID is the echoed command id; zero for unsolicited notifications.
	ID int

	// HasID reports whether the message carried an id field at all.
	HasID bool

	// Status is the status string.
	Status string

	// Request is set when the peer reports an intercepted WebDriver command.
	Request *RequestInfo

	// Raw is the message exactly as received.
	Raw json.RawMessage
}

// Terminal reports whether the status is anything but running.
func (m StatusMessage) Terminal() bool {
	return m.Status != StatusRunning
}

// Notification reports whether the peer sent the message on its own rather
// than in reply to a command: it has no id, or id 0.
func (m StatusMessage) Notification() bool {
	return m.ID == 0
}

// String returns the raw JSON of the message.
func (m StatusMessage) String() string {
	return string(m.Raw)
}

// parseStatus classifies a raw inbound value.
func parseStatus(raw json.RawMessage) (StatusMessage, error) {
	status := gjson.GetBytes(raw, "status")
	if !status.Exists() || status.Type != gjson.String {
		return StatusMessage{}, &ProtocolDecodeError{
			Reason:  "message has no string status",
			Snippet: snippet(raw),
		}
	}

	msg := StatusMessage{Status: status.String(), Raw: raw}

	if id := gjson.GetBytes(raw, "id"); id.Exists() {
		if id.Type != gjson.Number {
			return StatusMessage{}, &ProtocolDecodeError{
				Reason:  "message id is not a number",
				Snippet: snippet(raw),
			}
		}
		msg.ID = int(id.Int())
		msg.HasID = true
	}

	if req := gjson.GetBytes(raw, "request"); req.IsObject() {
		msg.Request = &RequestInfo{
			Method: req.Get("method").String(),
			Path:   req.Get("path").String(),
			Body:   req.Get("body").String(),
		}
	}

	return msg, nil
}

// snippetLen bounds the amount of payload quoted in errors.
const snippetLen = 64

func snippet(b []byte) string {
	if len(b) > snippetLen {
		return string(b[:snippetLen]) + "..."
	}
	return string(b)
}

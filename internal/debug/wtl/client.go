package wtl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Client.
type State int

const (
	// StateConnected is idle with an open connection.
	StateConnected State = iota
	// StateAwaitingResponse is while a command's messages are being drained.
	StateAwaitingResponse
	// StateStopped is terminal, after Stop or a fatal stream error.
	StateStopped
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MessageHandler observes every message drained for a command, in arrival order.
type MessageHandler func(cmd Command, msg StatusMessage)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithReadDeadline bounds the wait for each inbound message. Zero waits forever.
func WithReadDeadline(d time.Duration) ClientOption {
	return func(c *Client) {
		c.readTimeout = d
	}
}

// WithMaxPendingBytes bounds the bytes buffered for a single message.
func WithMaxPendingBytes(n int) ClientOption {
	return func(c *Client) {
		c.maxPending = n
	}
}

// WithLooseCorrelation accepts status messages whose id does not match the
// command in flight. Use it with peers that do not echo ids.
func WithLooseCorrelation() ClientOption {
	return func(c *Client) {
		c.loose = true
	}
}

// WithMessageHandler adds a handler for drained messages.
func WithMessageHandler(h MessageHandler) ClientOption {
	return func(c *Client) {
		c.handlers = append(c.handlers, h)
	}
}

// Client drives a WTL debugger over a Transport.
//
// A Client is not safe for concurrent use. Each operation blocks until the
// peer reports a non-running status, and the next operation must not be
// issued before the previous one returns.
type Client struct {
	transport Transport
	framer    *Framer
	nextID    int
	state     State

	readTimeout time.Duration
	maxPending  int
	loose       bool
	handlers    []MessageHandler
	logger      zerolog.Logger
}

// NewClient creates a client that owns transport.
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		nextID:    1,
		state:     StateConnected,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.framer = NewFramer(transport, c.maxPending)
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return c.state
}

// Step executes the waiting WebDriver command and stops at the next one.
func (c *Client) Step(ctx context.Context) error {
	id, err := c.begin(ctx)
	if err != nil {
		return err
	}
	_, err = c.exchange(ctx, Command{ID: id, Command: CommandStep})
	return err
}

// Run executes WebDriver commands until a breakpoint is reached.
func (c *Client) Run(ctx context.Context) error {
	id, err := c.begin(ctx)
	if err != nil {
		return err
	}
	_, err = c.exchange(ctx, Command{ID: id, Command: CommandContinue})
	return err
}

// Stop asks the peer to quit and closes the session. The peer does not
// answer, so nothing is read. The session is closed even when ctx is already
// done and the command cannot be sent.
func (c *Client) Stop(ctx context.Context) error {
	id, err := c.begin(ctx)
	if err != nil {
		if c.state != StateStopped {
			c.shutdown()
		}
		return err
	}
	err = c.send(Command{ID: id, Command: CommandStop})
	c.shutdown()
	c.logger.Info().Int("id", id).Msg("debugger session stopped")
	return err
}

// SetBreakpoint installs a breakpoint and returns its id for DeleteBreakpoint.
func (c *Client) SetBreakpoint(ctx context.Context, filter Filter) (int, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	if err := filter.Validate(); err != nil {
		return 0, err
	}

	id := c.allocateID()
	cmd := Command{
		ID:         id,
		Command:    CommandSetBreakpoint,
		Breakpoint: filter.descriptor(id),
	}
	if _, err := c.exchange(ctx, cmd); err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteBreakpoint removes a breakpoint previously returned by SetBreakpoint.
func (c *Client) DeleteBreakpoint(ctx context.Context, breakpointID int) error {
	id, err := c.begin(ctx)
	if err != nil {
		return err
	}
	cmd := Command{
		ID:         id,
		Command:    CommandDeleteBreakpoint,
		Breakpoint: &Breakpoint{ID: breakpointID},
	}
	_, err = c.exchange(ctx, cmd)
	return err
}

// Close releases the connection without notifying the peer.
func (c *Client) Close() error {
	if c.state == StateStopped {
		return nil
	}
	c.state = StateStopped
	return c.transport.Close()
}

// begin checks that an operation may start and allocates its id.
func (c *Client) begin(ctx context.Context) (int, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	return c.allocateID(), nil
}

// check reports whether an operation may start.
func (c *Client) check(ctx context.Context) error {
	if c.state == StateStopped {
		return ErrSessionClosed
	}
	return ctx.Err()
}

// allocateID allocates a new correlation id.
func (c *Client) allocateID() int {
	id := c.nextID
	c.nextID++
	return id
}

// exchange sends cmd and drains until a terminal status arrives.
func (c *Client) exchange(ctx context.Context, cmd Command) (StatusMessage, error) {
	if err := c.send(cmd); err != nil {
		c.shutdown()
		return StatusMessage{}, err
	}

	c.state = StateAwaitingResponse
	msg, err := c.drain(ctx, cmd)
	if err != nil {
		c.shutdown()
		return msg, err
	}
	c.state = StateConnected

	if msg.Status == StatusError {
		return msg, &RemoteError{ID: msg.ID, Status: msg.Status, Payload: msg.Raw}
	}
	return msg, nil
}

// send encodes cmd and writes it in one piece.
func (c *Client) send(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	data = append(data, '\n')

	c.logger.Debug().Int("id", cmd.ID).Str("command", cmd.Command).Msg("send command")
	return c.transport.Send(data)
}

// drain reads messages until the command is answered. Each message is
// passed to the handlers before the next is read.
//
// Notifications (no id, or id 0) never end the drain before the reply to
// cmd has been read, so a paused request reported earlier cannot be taken
// for the answer to a breakpoint command. Once the reply is in, the first
// terminal status ends the drain: the reply itself, or a later notification
// when the reply was "running".
func (c *Client) drain(ctx context.Context, cmd Command) (StatusMessage, error) {
	replied := false
	for {
		if err := c.armDeadline(ctx); err != nil {
			return StatusMessage{}, &ConnectionError{Op: "receive", Err: err}
		}

		raw, err := c.framer.Next()
		if err != nil {
			return StatusMessage{}, err
		}

		msg, err := parseStatus(raw)
		if err != nil {
			return StatusMessage{}, err
		}
		if err := c.correlate(cmd, msg); err != nil {
			return msg, err
		}

		c.logger.Debug().
			Int("id", msg.ID).
			Str("status", msg.Status).
			RawJSON("message", msg.Raw).
			Msg("received message")

		for _, h := range c.handlers {
			h(cmd, msg)
		}

		if !msg.Notification() {
			replied = true
		}
		if replied && msg.Terminal() {
			return msg, nil
		}
	}
}

// correlate rejects replies addressed to a command other than cmd.
// Notifications are always accepted.
func (c *Client) correlate(cmd Command, msg StatusMessage) error {
	if c.loose || msg.Notification() || msg.ID == cmd.ID {
		return nil
	}
	return &ProtocolDecodeError{
		Reason:  fmt.Sprintf("reply id %d does not match command id %d", msg.ID, cmd.ID),
		Snippet: snippet(msg.Raw),
	}
}

// armDeadline sets the read deadline for the next message from the configured
// timeout and the context deadline, whichever is earlier.
func (c *Client) armDeadline(ctx context.Context) error {
	rd, ok := c.transport.(ReadDeadliner)
	if !ok {
		return nil
	}

	var deadline time.Time
	if c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return rd.SetReadDeadline(deadline)
}

// shutdown moves to the terminal state and releases the connection.
func (c *Client) shutdown() {
	c.state = StateStopped
	if err := c.transport.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("close transport")
	}
}

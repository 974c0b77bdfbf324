package debug

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/wtldebug/internal/debug/wtl"
)

// Config configures a session.
type Config struct {
	// Host is the debugger host. Empty means wtl.DefaultHost.
	Host string

	// Port is the debugger port.
	Port int

	// DialTimeout bounds connection setup. Zero means no limit beyond ctx.
	DialTimeout time.Duration

	// ReadTimeout bounds the wait for each inbound message. Zero waits forever.
	ReadTimeout time.Duration

	// KeepAlive sets the TCP keep-alive period. Zero keeps the system default.
	KeepAlive time.Duration

	// MaxPendingBytes bounds a single buffered message. Zero selects the default.
	MaxPendingBytes int

	// LooseCorrelation accepts replies whose id does not match the command.
	LooseCorrelation bool

	// Logger receives session logs. The zero value logs nothing.
	Logger *zerolog.Logger
}

// Session is an interactive connection to a WTL debugger.
//
// Operations are serialized: concurrent callers wait for each other, so a
// console and a signal handler may share one session.
type Session struct {
	id        string
	addr      string
	transport wtl.Transport
	client    *wtl.Client
	logger    zerolog.Logger

	// opMu serializes client operations.
	opMu sync.Mutex

	// interrupted is set by Interrupt, which does not take opMu. The client
	// is moved to Stopped the next time opMu is held.
	interrupted atomic.Bool

	observers   []Observer
	observersMu sync.RWMutex

	breakpoints *BreakpointRegistry
}

// Dial connects to the debugger described by cfg.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	var opts []wtl.DialOption
	if cfg.DialTimeout > 0 {
		opts = append(opts, wtl.WithDialTimeout(cfg.DialTimeout))
	}
	if cfg.KeepAlive != 0 {
		opts = append(opts, wtl.WithKeepAlive(cfg.KeepAlive))
	}

	t, err := wtl.Dial(ctx, cfg.Host, cfg.Port, opts...)
	if err != nil {
		return nil, err
	}

	s := NewSession(t, cfg)
	s.addr = t.Addr()
	s.logger.Info().Str("addr", s.addr).Msg("connected to wtl debugger")
	return s, nil
}

// NewSession creates a session over an established transport.
func NewSession(t wtl.Transport, cfg Config) *Session {
	s := &Session{
		id:          uuid.NewString(),
		transport:   t,
		breakpoints: NewBreakpointRegistry(),
	}

	base := zerolog.Nop()
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	s.logger = base.With().Str("session", s.id).Logger()

	if a, ok := t.(interface{ Addr() string }); ok {
		s.addr = a.Addr()
	}

	opts := []wtl.ClientOption{
		wtl.WithLogger(s.logger),
		wtl.WithReadDeadline(cfg.ReadTimeout),
		wtl.WithMaxPendingBytes(cfg.MaxPendingBytes),
		wtl.WithMessageHandler(s.onMessage),
	}
	if cfg.LooseCorrelation {
		opts = append(opts, wtl.WithLooseCorrelation())
	}
	s.client = wtl.NewClient(t, opts...)

	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Addr returns the debugger address, if known.
func (s *Session) Addr() string {
	return s.addr
}

// Logger returns the session logger.
func (s *Session) Logger() zerolog.Logger {
	return s.logger
}

// State returns the client state.
func (s *Session) State() wtl.State {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.applyInterrupt()
	return s.client.State()
}

// Closed reports whether the session can no longer be used.
func (s *Session) Closed() bool {
	return s.State() == wtl.StateStopped
}

// AddObserver registers o for all future events.
func (s *Session) AddObserver(o Observer) {
	s.observersMu.Lock()
	s.observers = append(s.observers, o)
	s.observersMu.Unlock()
}

// Breakpoints returns the breakpoints installed through this session.
func (s *Session) Breakpoints() []RegisteredBreakpoint {
	return s.breakpoints.List()
}

// Step executes the waiting WebDriver command and stops at the next one.
func (s *Session) Step(ctx context.Context) error {
	return s.do(wtl.CommandStep, func() error {
		return s.client.Step(ctx)
	})
}

// Run executes WebDriver commands until a breakpoint is reached.
func (s *Session) Run(ctx context.Context) error {
	return s.do(wtl.CommandContinue, func() error {
		return s.client.Run(ctx)
	})
}

// Stop asks the debugger to quit and ends the session.
func (s *Session) Stop(ctx context.Context) error {
	err := s.do(wtl.CommandStop, func() error {
		return s.client.Stop(ctx)
	})
	s.breakpoints.Clear()
	return err
}

// SetBreakpoint installs a breakpoint and records it locally.
func (s *Session) SetBreakpoint(ctx context.Context, filter wtl.Filter) (int, error) {
	var id int
	err := s.do(wtl.CommandSetBreakpoint, func() error {
		var err error
		id, err = s.client.SetBreakpoint(ctx, filter)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.breakpoints.Add(id, filter)
	s.logger.Info().Int("breakpoint", id).Str("path", filter.Path).Msg("breakpoint set")
	return id, nil
}

// DeleteBreakpoint removes a breakpoint. Ids unknown to this session are still
// sent; the debugger may have been configured by another front-end.
func (s *Session) DeleteBreakpoint(ctx context.Context, id int) error {
	err := s.do(wtl.CommandDeleteBreakpoint, func() error {
		return s.client.DeleteBreakpoint(ctx, id)
	})
	if err != nil {
		return err
	}

	ev := s.logger.Info().Int("breakpoint", id)
	if filter, ok := s.breakpoints.Get(id); ok {
		ev = ev.Str("path", filter.Path)
	} else {
		ev = ev.Bool("foreign", true)
	}
	s.breakpoints.Remove(id)
	ev.Msg("breakpoint deleted")
	return nil
}

// ClearBreakpoints deletes every breakpoint installed through this session.
// It stops at the first fatal error.
func (s *Session) ClearBreakpoints(ctx context.Context) error {
	var errs []error
	for _, bp := range s.breakpoints.List() {
		err := s.DeleteBreakpoint(ctx, bp.ID)
		if err == nil {
			continue
		}
		errs = append(errs, fmt.Errorf("delete breakpoint %d: %w", bp.ID, err))
		if wtl.IsFatal(err) {
			break
		}
	}
	return errors.Join(errs...)
}

// Close releases the connection without notifying the debugger.
func (s *Session) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.client.Close()
}

// Interrupt closes the connection without waiting for the running
// operation, which then fails with a connection error. Unlike Close it may
// be called while Run or Step is blocked.
func (s *Session) Interrupt() error {
	s.interrupted.Store(true)
	s.logger.Info().Msg("session interrupted")
	return s.transport.Close()
}

// applyInterrupt closes the client after Interrupt so later operations fail
// with wtl.ErrSessionClosed. Callers hold opMu.
func (s *Session) applyInterrupt() {
	if s.interrupted.Load() {
		s.client.Close()
	}
}

// do runs op under the operation lock and reports it to observers.
func (s *Session) do(command string, op func() error) error {
	s.opMu.Lock()
	s.applyInterrupt()
	start := time.Now()
	err := op()
	elapsed := time.Since(start)
	s.opMu.Unlock()

	ev := CommandEvent{
		SessionID: s.id,
		Command:   command,
		Duration:  elapsed,
		Err:       err,
	}
	for _, o := range s.snapshotObservers() {
		o.CommandCompleted(ev)
	}

	if err != nil {
		level := zerolog.WarnLevel
		if errors.Is(err, wtl.ErrSessionClosed) {
			level = zerolog.DebugLevel
		}
		s.logger.WithLevel(level).Err(err).Str("command", command).Msg("command failed")
	}
	return err
}

// onMessage forwards a drained message to observers.
func (s *Session) onMessage(cmd wtl.Command, msg wtl.StatusMessage) {
	ev := MessageEvent{
		SessionID: s.id,
		Command:   cmd,
		Message:   msg,
		Received:  time.Now(),
	}
	for _, o := range s.snapshotObservers() {
		o.MessageReceived(ev)
	}
}

func (s *Session) snapshotObservers() []Observer {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	return append([]Observer(nil), s.observers...)
}

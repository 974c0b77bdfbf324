package debugserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/wtldebug/internal/debug/wtl"
)

// Server is the WTL debugger endpoint a front-end connects to.
type Server struct {
	ln     net.Listener
	onStop func()
	logger zerolog.Logger

	mu          sync.Mutex
	conn        net.Conn
	connErr     error
	healthy     bool
	step        bool
	breakpoints map[int]*breakpoint
	release     chan struct{}
	connected   chan struct{}
	done        chan struct{}
	closed      bool

	writeMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithOnStop sets the function called when the front-end sends stop. The
// server closes the connection afterwards either way.
func WithOnStop(fn func()) Option {
	return func(s *Server) {
		s.onStop = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Listen starts a server on addr and waits for a front-end in the background.
func Listen(addr string, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return Serve(ln, opts...), nil
}

// Serve starts a server on an existing listener.
func Serve(ln net.Listener, opts ...Option) *Server {
	s := &Server{
		ln:          ln,
		logger:      zerolog.Nop(),
		breakpoints: make(map[int]*breakpoint),
		connected:   make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("waiting for debugger connection")
	go s.accept()
	return s
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Healthy returns nil once a front-end is connected and has sent step or
// continue.
func (s *Server) Healthy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connErr != nil {
		return s.connErr
	}
	if !s.healthy {
		return ErrNotConnected
	}
	return nil
}

// WaitConnected blocks until a front-end connects.
func (s *Server) WaitConnected(ctx context.Context) error {
	select {
	case <-s.connected:
		return nil
	case <-s.done:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stepping reports whether the server pauses on every command.
func (s *Server) Stepping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Breakpoints returns the installed breakpoints ordered by id.
func (s *Server) Breakpoints() []wtl.Breakpoint {
	s.mu.Lock()
	result := make([]wtl.Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		result = append(result, bp.desc)
	}
	s.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// Intercept reports r to the front-end. If the server is stepping or a
// breakpoint matches, it blocks until the front-end sends step or continue,
// the request is canceled, or the front-end goes away. The request body is
// restored so r can still be forwarded.
func (s *Server) Intercept(r *http.Request) error {
	info, err := describe(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil
	}

	pause := s.step
	if !pause {
		for _, bp := range s.breakpoints {
			if bp.matches(info) {
				pause = true
				break
			}
		}
	}

	var release chan struct{}
	if pause {
		if s.release == nil {
			s.release = make(chan struct{})
		}
		release = s.release
	}
	s.mu.Unlock()

	status := wtl.StatusRunning
	if pause {
		status = wtl.StatusWaiting
	}
	s.write(notification(status, info))

	if !pause {
		return nil
	}

	s.logger.Debug().Str("method", info.Method).Str("path", info.Path).Msg("paused webdriver command")
	select {
	case <-release:
		return nil
	case <-r.Context().Done():
		return r.Context().Err()
	case <-s.done:
		return ErrServerClosed
	}
}

// Close stops listening, drops the front-end and releases paused requests.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.mu.Unlock()

	err := s.ln.Close()
	if conn != nil {
		conn.Close()
	}
	return err
}

func (s *Server) accept() {
	conn, err := s.ln.Accept()

	s.mu.Lock()
	if err != nil {
		if !s.closed {
			s.connErr = err
			s.logger.Error().Err(err).Msg("accept debugger connection")
		}
		s.mu.Unlock()
		return
	}
	s.conn = conn
	close(s.connected)
	s.mu.Unlock()

	// One front-end per server.
	s.ln.Close()

	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("debugger front-end connected")
	s.readLoop(conn)
}

func (s *Server) readLoop(conn net.Conn) {
	framer := wtl.NewFramer(wtl.NewSocketTransportFromConn(conn), 0)

	for {
		raw, err := framer.Next()
		if err != nil {
			s.disconnect(err)
			return
		}

		if stop := s.process(raw); stop {
			s.disconnect(nil)
			if s.onStop != nil {
				s.onStop()
			}
			return
		}
	}
}

// process handles one command and reports whether it was stop.
func (s *Server) process(raw []byte) bool {
	id := int(gjson.GetBytes(raw, "id").Int())
	command := gjson.GetBytes(raw, "command").String()

	s.logger.Debug().Int("id", id).Str("command", command).Msg("debugger command")

	status := wtl.StatusError
	s.mu.Lock()
	switch command {
	case wtl.CommandContinue, wtl.CommandStep:
		s.healthy = true
		s.step = command == wtl.CommandStep
		if s.release != nil {
			close(s.release)
			s.release = nil
		}
		status = wtl.StatusRunning

	case wtl.CommandStop:
		s.mu.Unlock()
		s.logger.Info().Msg("debugger front-end requested stop")
		return true

	case wtl.CommandSetBreakpoint:
		desc, ok := parseBreakpoint(raw)
		if !ok {
			break
		}
		bp, err := compileBreakpoint(desc)
		if err != nil {
			s.logger.Warn().Err(err).Int("breakpoint", desc.ID).Msg("rejected breakpoint")
			break
		}
		s.breakpoints[desc.ID] = bp
		status = wtl.StatusWaiting

	case wtl.CommandDeleteBreakpoint:
		desc, ok := parseBreakpoint(raw)
		if !ok {
			break
		}
		delete(s.breakpoints, desc.ID)
		status = wtl.StatusWaiting
	}
	s.mu.Unlock()

	s.write(reply(id, status))
	return false
}

// disconnect forgets the front-end and releases paused requests.
func (s *Server) disconnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connErr = ErrFrontendGone
	s.step = false
	if s.release != nil {
		close(s.release)
		s.release = nil
	}

	if err != nil && !errors.Is(err, wtl.ErrPeerClosed) && !s.closed {
		s.logger.Warn().Err(err).Msg("debugger connection failed")
	} else {
		s.logger.Info().Msg("debugger front-end disconnected")
	}
}

// write sends one message followed by a newline.
func (s *Server) write(msg []byte) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := conn.Write(append(msg, '\n')); err != nil {
		s.logger.Warn().Err(err).Msg("write to debugger front-end")
	}
}

func parseBreakpoint(raw []byte) (wtl.Breakpoint, bool) {
	bp := gjson.GetBytes(raw, "breakpoint")
	if !bp.IsObject() {
		return wtl.Breakpoint{}, false
	}

	desc := wtl.Breakpoint{
		ID:   int(bp.Get("id").Int()),
		Path: bp.Get("path").String(),
		Body: bp.Get("body").String(),
	}
	for _, m := range bp.Get("methods").Array() {
		desc.Methods = append(desc.Methods, m.String())
	}
	return desc, true
}

func reply(id int, status string) []byte {
	msg := []byte(`{}`)
	msg, _ = sjson.SetBytes(msg, "id", id)
	msg, _ = sjson.SetBytes(msg, "status", status)
	return msg
}

func notification(status string, info wtl.RequestInfo) []byte {
	msg := reply(0, status)
	if info.Method != "" {
		msg, _ = sjson.SetBytes(msg, "request.method", info.Method)
	}
	if info.Path != "" {
		msg, _ = sjson.SetBytes(msg, "request.path", info.Path)
	}
	if info.Body != "" {
		msg, _ = sjson.SetBytes(msg, "request.body", info.Body)
	}
	return msg
}

// describe captures the request line and body, leaving r.Body readable.
func describe(r *http.Request) (wtl.RequestInfo, error) {
	info := wtl.RequestInfo{Method: r.Method, Path: r.URL.Path}
	if r.Body == nil || r.Body == http.NoBody {
		return info, nil
	}

	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return info, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	info.Body = string(body)
	return info, nil
}

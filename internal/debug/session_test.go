package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/wtldebug/internal/debug/wtl"
)

// mockTransport implements wtl.Transport for testing. onSend may queue replies.
type mockTransport struct {
	mu       sync.Mutex
	sent     []wtl.Command
	recvChan chan []byte
	closed   bool
	onSend   func(cmd wtl.Command)
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		recvChan: make(chan []byte, 32),
	}
}

func (t *mockTransport) Send(p []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return io.ErrClosedPipe
	}

	var cmd wtl.Command
	if err := json.Unmarshal(p, &cmd); err != nil {
		t.mu.Unlock()
		return err
	}
	t.sent = append(t.sent, cmd)
	onSend := t.onSend
	t.mu.Unlock()

	if onSend != nil {
		onSend(cmd)
	}
	return nil
}

func (t *mockTransport) Receive(p []byte) (int, error) {
	data, ok := <-t.recvChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		t.closed = true
		close(t.recvChan)
	}
	return nil
}

func (t *mockTransport) queue(format string, args ...any) {
	t.recvChan <- []byte(fmt.Sprintf(format, args...))
}

func (t *mockTransport) commands() []wtl.Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]wtl.Command(nil), t.sent...)
}

// autoReply answers every command except stop with a single waiting status.
func autoReply(t *mockTransport) {
	t.onSend = func(cmd wtl.Command) {
		if cmd.Command == wtl.CommandStop {
			return
		}
		t.queue(`{"id":%d,"status":"waiting"}`, cmd.ID)
	}
}

func TestSessionIdentity(t *testing.T) {
	s1 := NewSession(newMockTransport(), Config{})
	s2 := NewSession(newMockTransport(), Config{})
	defer s1.Close()
	defer s2.Close()

	assert.Len(t, s1.ID(), 36)
	assert.NotEqual(t, s1.ID(), s2.ID())
	assert.Empty(t, s1.Addr())
	assert.Equal(t, wtl.StateConnected, s1.State())
	assert.False(t, s1.Closed())
}

func TestSessionBreakpointRegistrySync(t *testing.T) {
	mt := newMockTransport()
	autoReply(mt)
	s := NewSession(mt, Config{})
	defer s.Close()
	ctx := context.Background()

	first, err := s.SetBreakpoint(ctx, wtl.Filter{Path: "/url$", Methods: []string{"POST"}})
	require.NoError(t, err)
	second, err := s.SetBreakpoint(ctx, wtl.Filter{Body: "xpath"})
	require.NoError(t, err)

	bps := s.Breakpoints()
	require.Len(t, bps, 2)
	assert.Equal(t, first, bps[0].ID)
	assert.Equal(t, second, bps[1].ID)
	assert.Equal(t, "/url$", bps[0].Filter.Path)

	require.NoError(t, s.DeleteBreakpoint(ctx, first))
	bps = s.Breakpoints()
	require.Len(t, bps, 1)
	assert.Equal(t, second, bps[0].ID)
}

func TestSessionFailedSetIsNotRecorded(t *testing.T) {
	mt := newMockTransport()
	mt.onSend = func(cmd wtl.Command) {
		mt.queue(`{"id":%d,"status":"error"}`, cmd.ID)
	}
	s := NewSession(mt, Config{})
	defer s.Close()

	_, err := s.SetBreakpoint(context.Background(), wtl.Filter{Path: "("})
	var remoteErr *wtl.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Empty(t, s.Breakpoints())
	assert.False(t, s.Closed())
}

func TestSessionClearBreakpoints(t *testing.T) {
	mt := newMockTransport()
	autoReply(mt)
	s := NewSession(mt, Config{})
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.SetBreakpoint(ctx, wtl.Filter{Path: fmt.Sprintf("/p%d", i)})
		require.NoError(t, err)
	}

	require.NoError(t, s.ClearBreakpoints(ctx))
	assert.Empty(t, s.Breakpoints())

	var deleted []int
	for _, cmd := range mt.commands() {
		if cmd.Command == wtl.CommandDeleteBreakpoint {
			deleted = append(deleted, cmd.Breakpoint.ID)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, deleted)
}

func TestSessionStopClearsRegistry(t *testing.T) {
	mt := newMockTransport()
	autoReply(mt)
	s := NewSession(mt, Config{})
	ctx := context.Background()

	_, err := s.SetBreakpoint(ctx, wtl.Filter{})
	require.NoError(t, err)

	require.NoError(t, s.Stop(ctx))
	assert.True(t, s.Closed())
	assert.Empty(t, s.Breakpoints())
	assert.ErrorIs(t, s.Step(ctx), wtl.ErrSessionClosed)
}

func TestSessionObservers(t *testing.T) {
	mt := newMockTransport()
	mt.onSend = func(cmd wtl.Command) {
		mt.queue(`{"id":%d,"status":"running"}`, cmd.ID)
		mt.queue(`{"id":0,"status":"waiting","request":{"method":"GET","path":"/session/1/title"}}`)
	}
	s := NewSession(mt, Config{})
	defer s.Close()

	var messages []MessageEvent
	var commands []CommandEvent
	s.AddObserver(Handlers{
		OnMessage: func(ev MessageEvent) { messages = append(messages, ev) },
		OnCommand: func(ev CommandEvent) { commands = append(commands, ev) },
	})
	// A zero Handlers must be safe to register.
	s.AddObserver(Handlers{})

	require.NoError(t, s.Run(context.Background()))

	require.Len(t, messages, 2)
	assert.Equal(t, s.ID(), messages[0].SessionID)
	assert.Equal(t, wtl.CommandContinue, messages[0].Command.Command)
	assert.Equal(t, wtl.StatusRunning, messages[0].Message.Status)
	require.NotNil(t, messages[1].Message.Request)
	assert.Equal(t, "/session/1/title", messages[1].Message.Request.Path)
	assert.False(t, messages[1].Received.Before(messages[0].Received))

	require.Len(t, commands, 1)
	assert.Equal(t, wtl.CommandContinue, commands[0].Command)
	assert.NoError(t, commands[0].Err)
}

func TestSessionCommandEventCarriesError(t *testing.T) {
	mt := newMockTransport()
	s := NewSession(mt, Config{})

	var commands []CommandEvent
	s.AddObserver(Handlers{OnCommand: func(ev CommandEvent) { commands = append(commands, ev) }})

	require.NoError(t, s.Close())
	err := s.Step(context.Background())
	require.ErrorIs(t, err, wtl.ErrSessionClosed)

	require.Len(t, commands, 1)
	assert.ErrorIs(t, commands[0].Err, wtl.ErrSessionClosed)
}

func TestSessionLooseCorrelation(t *testing.T) {
	mt := newMockTransport()
	mt.onSend = func(cmd wtl.Command) {
		mt.queue(`{"id":%d,"status":"waiting"}`, cmd.ID+100)
	}
	s := NewSession(mt, Config{LooseCorrelation: true})
	defer s.Close()

	require.NoError(t, s.Step(context.Background()))
}

func TestSessionSerializesOperations(t *testing.T) {
	mt := newMockTransport()
	autoReply(mt)
	s := NewSession(mt, Config{})
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Step(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	cmds := mt.commands()
	require.Len(t, cmds, 20)
	for i, cmd := range cmds {
		assert.Equal(t, i+1, cmd.ID)
	}
}

func TestSessionInterruptUnblocksRun(t *testing.T) {
	mt := newMockTransport()
	s := NewSession(mt, Config{})
	defer s.Close()

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return len(mt.commands()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Interrupt())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, wtl.IsFatal(err))
	case <-time.After(2 * time.Second):
		t.Fatal("run not interrupted")
	}
	assert.True(t, s.Closed())
}

func TestSessionInterruptWhileIdle(t *testing.T) {
	mt := newMockTransport()
	autoReply(mt)
	s := NewSession(mt, Config{})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Step(ctx))
	require.NoError(t, s.Interrupt())

	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Step(ctx), wtl.ErrSessionClosed)
	_, err := s.SetBreakpoint(ctx, wtl.Filter{})
	assert.ErrorIs(t, err, wtl.ErrSessionClosed)
	assert.Len(t, mt.commands(), 1)
}

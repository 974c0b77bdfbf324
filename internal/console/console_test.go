package console

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/wtldebug/internal/debug"
	"github.com/dshills/wtldebug/internal/debug/wtl"
)

// fakeDebugger records calls and returns scripted errors.
type fakeDebugger struct {
	calls   []string
	filters []wtl.Filter
	deleted []int
	saved   string
	nextID  int
	closed  bool
	errs    map[string]error
	bps     []debug.RegisteredBreakpoint
}

func newFakeDebugger() *fakeDebugger {
	return &fakeDebugger{nextID: 1, errs: make(map[string]error)}
}

func (f *fakeDebugger) op(name string) error {
	f.calls = append(f.calls, name)
	if f.closed {
		return wtl.ErrSessionClosed
	}
	err := f.errs[name]
	if wtl.IsFatal(err) {
		f.closed = true
	}
	return err
}

func (f *fakeDebugger) Step(context.Context) error { return f.op("step") }
func (f *fakeDebugger) Run(context.Context) error  { return f.op("run") }

func (f *fakeDebugger) Stop(context.Context) error {
	err := f.op("stop")
	f.closed = true
	return err
}

func (f *fakeDebugger) SetBreakpoint(_ context.Context, filter wtl.Filter) (int, error) {
	if err := f.op("set"); err != nil {
		return 0, err
	}
	id := f.nextID
	f.nextID++
	f.filters = append(f.filters, filter)
	f.bps = append(f.bps, debug.RegisteredBreakpoint{ID: id, Filter: filter})
	return id, nil
}

func (f *fakeDebugger) DeleteBreakpoint(_ context.Context, id int) error {
	if err := f.op("delete"); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDebugger) ClearBreakpoints(context.Context) error {
	f.bps = nil
	return f.op("clear")
}

func (f *fakeDebugger) Breakpoints() []debug.RegisteredBreakpoint { return f.bps }

func (f *fakeDebugger) SavePresets(path string) error {
	f.saved = path
	return f.op("save")
}

func (f *fakeDebugger) Closed() bool { return f.closed }

func newTestConsole(dbg Debugger, input string) (*Console, *bytes.Buffer) {
	var out bytes.Buffer
	c := New(dbg, WithInput(strings.NewReader(input)), WithOutput(&out), WithColor(false))
	return c, &out
}

func TestRunExecutesCommandsUntilStop(t *testing.T) {
	dbg := newFakeDebugger()
	c, out := newTestConsole(dbg, "wtl.step()\nwtl.run()\nwtl.stop()\nwtl.step()\n")
	defer c.Close()

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []string{"step", "run", "stop"}, dbg.calls)
	assert.Contains(t, out.String(), "WTL Debugger Console")
	assert.Contains(t, out.String(), "wtl.run(): Run test until next WTL breakpoint.")
}

func TestSetBreakpointForms(t *testing.T) {
	dbg := newFakeDebugger()
	c, out := newTestConsole(dbg, "")
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Eval(ctx, `wtl.set_breakpoint{path="/url$", methods={"POST","GET"}}`))
	require.NoError(t, c.Eval(ctx, `wtl.set_breakpoint(nil, "DELETE", "xpath")`))
	require.NoError(t, c.Eval(ctx, `wtl.set_breakpoint()`))

	require.Len(t, dbg.filters, 3)
	assert.Equal(t, wtl.Filter{Path: "/url$", Methods: []string{"POST", "GET"}}, dbg.filters[0])
	assert.Equal(t, wtl.Filter{Methods: []string{"DELETE"}, Body: "xpath"}, dbg.filters[1])
	assert.Equal(t, wtl.Filter{}, dbg.filters[2])

	// The returned ids are echoed like any expression value.
	assert.Equal(t, "1\n2\n3\n", out.String())
}

func TestSetBreakpointRejectsBadArguments(t *testing.T) {
	dbg := newFakeDebugger()
	c, _ := newTestConsole(dbg, "")
	defer c.Close()
	ctx := context.Background()

	assert.Error(t, c.Eval(ctx, `wtl.set_breakpoint{path=3}`))
	assert.Error(t, c.Eval(ctx, `wtl.set_breakpoint{methods={"GET", 4}}`))
	assert.Error(t, c.Eval(ctx, `wtl.set_breakpoint{methods={""}}`))
	assert.Empty(t, dbg.calls)
}

func TestDeleteAndListBreakpoints(t *testing.T) {
	dbg := newFakeDebugger()
	c, out := newTestConsole(dbg, "")
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Eval(ctx, `wtl.breakpoints()`))
	assert.Contains(t, out.String(), "no breakpoints")

	require.NoError(t, c.Eval(ctx, `id = wtl.set_breakpoint{path="/title"}`))
	out.Reset()
	require.NoError(t, c.Eval(ctx, `wtl.breakpoints()`))
	assert.Equal(t, "1: * /title\n", out.String())

	require.NoError(t, c.Eval(ctx, `wtl.delete_breakpoint(id)`))
	assert.Equal(t, []int{1}, dbg.deleted)

	assert.Error(t, c.Eval(ctx, `wtl.delete_breakpoint("x")`))
}

func TestClearAndSaveBreakpoints(t *testing.T) {
	dbg := newFakeDebugger()
	c, _ := newTestConsole(dbg, "")
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Eval(ctx, `wtl.clear_breakpoints()`))
	require.NoError(t, c.Eval(ctx, `wtl.save_breakpoints("/tmp/presets.yaml")`))
	assert.Equal(t, []string{"clear", "save"}, dbg.calls)
	assert.Equal(t, "/tmp/presets.yaml", dbg.saved)
}

func TestRemoteErrorKeepsConsoleRunning(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.errs["set"] = &wtl.RemoteError{ID: 1, Status: "error"}
	c, out := newTestConsole(dbg, "wtl.set_breakpoint{path='('}\nwtl.step()\n")
	defer c.Close()

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"set", "step"}, dbg.calls)
	assert.Contains(t, out.String(), "error:")
	assert.Contains(t, out.String(), "wtl remote error")
}

func TestFatalErrorEndsConsole(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.errs["run"] = &wtl.ConnectionError{Op: "receive", Err: wtl.ErrPeerClosed}
	c, _ := newTestConsole(dbg, "wtl.run()\nwtl.step()\n")
	defer c.Close()

	err := c.Run(context.Background())
	require.ErrorIs(t, err, wtl.ErrPeerClosed)
	assert.Equal(t, []string{"run"}, dbg.calls)
}

func TestExpressionsAndPrint(t *testing.T) {
	c, out := newTestConsole(newFakeDebugger(), "")
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Eval(ctx, `1 + 2`))
	require.NoError(t, c.Eval(ctx, `=string.upper("post")`))
	require.NoError(t, c.Eval(ctx, `x = {1, 2, k="v"}`))
	require.NoError(t, c.Eval(ctx, `x`))
	require.NoError(t, c.Eval(ctx, `print("a", 1, nil)`))

	assert.Equal(t, "3\n\"POST\"\n{1, 2, k=\"v\"}\na\t1\tnil\n", out.String())
}

func TestHelp(t *testing.T) {
	c, out := newTestConsole(newFakeDebugger(), "")
	defer c.Close()

	require.NoError(t, c.Eval(context.Background(), `help()`))
	assert.Contains(t, out.String(), "wtl.delete_breakpoint(id)")
}

func TestUnsafeLibrariesUnavailable(t *testing.T) {
	c, _ := newTestConsole(newFakeDebugger(), "")
	defer c.Close()
	ctx := context.Background()

	for _, code := range []string{`os.exit(1)`, `io.write("x")`, `dofile("/etc/passwd")`, `require("os")`} {
		assert.Error(t, c.Eval(ctx, code), code)
	}
}

func TestRunScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lua")
	require.NoError(t, os.WriteFile(path, []byte(`
local id = wtl.set_breakpoint{path = "/url$", methods = {"POST"}}
wtl.run()
wtl.delete_breakpoint(id)
wtl.stop()
`), 0644))

	dbg := newFakeDebugger()
	c, _ := newTestConsole(dbg, "")
	defer c.Close()

	require.NoError(t, c.RunScript(context.Background(), path))
	assert.Equal(t, []string{"set", "run", "delete", "stop"}, dbg.calls)
}

func TestRunScriptReportsFatalError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lua")
	require.NoError(t, os.WriteFile(path, []byte("wtl.step()\n"), 0644))

	dbg := newFakeDebugger()
	dbg.errs["step"] = &wtl.ProtocolDecodeError{Reason: "malformed JSON"}
	c, _ := newTestConsole(dbg, "")
	defer c.Close()

	err := c.RunScript(context.Background(), path)
	var decodeErr *wtl.ProtocolDecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestClosedConsole(t *testing.T) {
	c, _ := newTestConsole(newFakeDebugger(), "")
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Eval(context.Background(), "1"), ErrConsoleClosed)
}

func TestMessageEcho(t *testing.T) {
	c, out := newTestConsole(newFakeDebugger(), "")
	defer c.Close()

	c.MessageReceived(debug.MessageEvent{Message: wtl.StatusMessage{
		Status: "waiting",
		Raw:    []byte(`{"id":2,"status":"waiting"}`),
	}})
	assert.Equal(t, "{\"id\":2,\"status\":\"waiting\"}\n", out.String())
}

// Package console provides the interactive WTL debugger console.
//
// The console is a Lua REPL with a global wtl table bound to a debugger
// session:
//
//	> wtl.set_breakpoint{path = "/url$", methods = {"POST"}}
//	> wtl.run()
//	> wtl.step()
//	> wtl.stop()
//
// Expressions typed at the prompt are evaluated and their values printed.
// Only the base, table, string and math libraries are available.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
	"golang.org/x/term"

	"github.com/dshills/wtldebug/internal/debug"
	"github.com/dshills/wtldebug/internal/debug/wtl"
)

// Debugger is the session surface the console drives.
type Debugger interface {
	Step(ctx context.Context) error
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
	SetBreakpoint(ctx context.Context, filter wtl.Filter) (int, error)
	DeleteBreakpoint(ctx context.Context, id int) error
	ClearBreakpoints(ctx context.Context) error
	Breakpoints() []debug.RegisteredBreakpoint
	SavePresets(path string) error
	Closed() bool
}

// ErrConsoleClosed is returned when using a closed console.
var ErrConsoleClosed = errors.New("console closed")

// Console runs Lua input against a debugger session.
//
// gopher-lua states are not goroutine-safe; Console serializes access to its
// state, and observer callbacks only write output.
type Console struct {
	L   *lua.LState
	dbg Debugger

	in     io.Reader
	out    io.Writer
	outMu  sync.Mutex
	color  bool
	prompt string
	logger zerolog.Logger

	ctx    context.Context
	fatal  error
	mu     sync.Mutex
	closed bool
}

// Option configures a Console.
type Option func(*Console)

// WithInput sets the input stream. Defaults to os.Stdin.
func WithInput(r io.Reader) Option {
	return func(c *Console) {
		c.in = r
	}
}

// WithOutput sets the output stream. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Console) {
		c.out = w
	}
}

// WithColor forces colored output on or off. By default color is used when
// the output is a terminal.
func WithColor(on bool) Option {
	return func(c *Console) {
		c.color = on
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Console) {
		c.logger = logger
	}
}

// New creates a console bound to dbg.
func New(dbg Debugger, opts ...Option) *Console {
	c := &Console{
		dbg:    dbg,
		in:     os.Stdin,
		out:    os.Stdout,
		color:  isTerminal(os.Stdout),
		logger: zerolog.Nop(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if isTerminal(c.in) {
		c.prompt = "wtl> "
	}

	c.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(c.L)
	c.install()

	return c
}

// openSafeLibraries opens only the Lua libraries without host access.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// base opens these; they reach the file system.
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// Run prints the banner and executes input lines until the input ends, the
// session is stopped, or the connection fails. A connection or protocol
// failure is returned; a deliberate stop is not an error.
func (c *Console) Run(ctx context.Context) error {
	c.printBanner()

	scanner := bufio.NewScanner(c.in)
	for {
		if c.dbg.Closed() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		c.write(c.prompt)
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		if err := c.Eval(ctx, line); err != nil {
			if errors.Is(err, ErrConsoleClosed) {
				return err
			}
			c.printError(err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return c.Err()
}

// Eval executes one line. Expressions are evaluated and their values
// printed; anything else runs as a statement.
func (c *Console) Eval(ctx context.Context, line string) error {
	return c.exec(ctx, func() error {
		if fn, err := c.L.LoadString("return " + strings.TrimPrefix(line, "=")); err == nil {
			top := c.L.GetTop()
			c.L.Push(fn)
			if err := c.L.PCall(0, lua.MultRet, nil); err != nil {
				return err
			}
			c.printValues(top)
			return nil
		}
		return c.L.DoString(line)
	})
}

// RunScript executes a Lua file against the session.
func (c *Console) RunScript(ctx context.Context, path string) error {
	if err := c.exec(ctx, func() error { return c.L.DoFile(path) }); err != nil {
		if fatal := c.Err(); fatal != nil {
			return fatal
		}
		return err
	}
	return c.Err()
}

// Err returns the fatal session error that ended the console, if any.
func (c *Console) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Close releases the Lua state.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		c.L.Close()
	}
}

// MessageReceived implements debug.Observer by echoing every drained message.
func (c *Console) MessageReceived(ev debug.MessageEvent) {
	c.writeln(c.styleStatus(ev.Message.Status, ev.Message.String()))
}

// CommandCompleted implements debug.Observer.
func (c *Console) CommandCompleted(debug.CommandEvent) {}

// exec runs fn on the Lua state with panic recovery.
func (c *Console) exec(ctx context.Context, fn func() error) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConsoleClosed
	}

	c.ctx = ctx
	c.L.SetContext(ctx)
	defer c.L.RemoveContext()

	top := c.L.GetTop()
	defer func() {
		c.L.SetTop(top)
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// noteErr records errors that end the session.
func (c *Console) noteErr(err error) {
	if err == nil || errors.Is(err, wtl.ErrSessionClosed) || !wtl.IsFatal(err) {
		return
	}
	if c.fatal == nil {
		c.fatal = err
	}
	c.logger.Error().Err(err).Msg("debugger connection lost")
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *Console) write(s string) {
	if s == "" {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	io.WriteString(c.out, s)
}

func (c *Console) writeln(s string) {
	c.write(s + "\n")
}

func (c *Console) printError(err error) {
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		msg = apiErr.Object.String()
	}
	if c.color {
		msg = pterm.Error.Sprint(msg)
	} else {
		msg = "error: " + msg
	}
	c.writeln(msg)
}

func (c *Console) printValues(top int) {
	n := c.L.GetTop() - top
	if n <= 0 {
		return
	}
	parts := make([]string, 0, n)
	for i := top + 1; i <= top+n; i++ {
		parts = append(parts, formatValue(c.L.Get(i)))
	}
	c.writeln(strings.Join(parts, "\t"))
}

func (c *Console) styleStatus(status, text string) string {
	if !c.color {
		return text
	}
	switch status {
	case wtl.StatusRunning:
		return pterm.FgCyan.Sprint(text)
	case wtl.StatusError:
		return pterm.FgRed.Sprint(text)
	default:
		return pterm.FgGreen.Sprint(text)
	}
}

func (c *Console) printBanner() {
	title := "WTL Debugger Console"
	if c.color {
		title = pterm.NewStyle(pterm.FgLightMagenta, pterm.Bold).Sprint(title)
	}
	c.writeln("")
	c.writeln(title)
	c.writeln("")
	c.writeln(bannerText)
}

const bannerText = `Debugger Commands:
    wtl.run(): Run test until next WTL breakpoint.
    wtl.step(): Execute the current waiting command and break at the next one.
    wtl.stop(): Quit WTL and the Debugger.
    help(): Additional debugger commands.
`

package console

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/wtldebug/internal/debug/wtl"
)

const helpText = `wtl.run()
    Execute WebDriver commands until a breakpoint is reached.
wtl.step()
    Execute the waiting WebDriver command and stop at the next one.
wtl.stop()
    Quit WTL and the debugger.
wtl.set_breakpoint{path=, methods=, body=}
wtl.set_breakpoint(path, methods, body)
    Pause on WebDriver commands whose path and body match the given regular
    expressions and whose HTTP method is in methods. Omitted fields match
    anything. Returns the breakpoint id.
wtl.delete_breakpoint(id)
    Delete a breakpoint.
wtl.breakpoints()
    List breakpoints set in this session.
wtl.clear_breakpoints()
    Delete every breakpoint set in this session.
wtl.save_breakpoints(path)
    Write this session's breakpoints to a YAML preset file.
`

// install registers the wtl table and console globals.
func (c *Console) install() {
	mod := c.L.SetFuncs(c.L.NewTable(), map[string]lua.LGFunction{
		"run":               c.luaRun,
		"step":              c.luaStep,
		"stop":              c.luaStop,
		"set_breakpoint":    c.luaSetBreakpoint,
		"delete_breakpoint": c.luaDeleteBreakpoint,
		"breakpoints":       c.luaBreakpoints,
		"clear_breakpoints": c.luaClearBreakpoints,
		"save_breakpoints":  c.luaSaveBreakpoints,
	})
	c.L.SetGlobal("wtl", mod)
	c.L.SetGlobal("help", c.L.NewFunction(c.luaHelp))
	c.L.SetGlobal("print", c.L.NewFunction(c.luaPrint))
}

// check raises a Lua error for err after recording fatal failures.
func (c *Console) check(L *lua.LState, err error) {
	if err == nil {
		return
	}
	c.noteErr(err)
	L.RaiseError("%s", err.Error())
}

func (c *Console) luaRun(L *lua.LState) int {
	c.check(L, c.dbg.Run(c.ctx))
	return 0
}

func (c *Console) luaStep(L *lua.LState) int {
	c.check(L, c.dbg.Step(c.ctx))
	return 0
}

func (c *Console) luaStop(L *lua.LState) int {
	c.check(L, c.dbg.Stop(c.ctx))
	return 0
}

func (c *Console) luaSetBreakpoint(L *lua.LState) int {
	filter, err := filterArgs(L)
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}

	id, err := c.dbg.SetBreakpoint(c.ctx, filter)
	c.check(L, err)
	L.Push(lua.LNumber(id))
	return 1
}

func (c *Console) luaDeleteBreakpoint(L *lua.LState) int {
	id := L.CheckInt(1)
	c.check(L, c.dbg.DeleteBreakpoint(c.ctx, id))
	return 0
}

func (c *Console) luaBreakpoints(L *lua.LState) int {
	bps := c.dbg.Breakpoints()
	if len(bps) == 0 {
		c.writeln("no breakpoints")
		return 0
	}
	for _, bp := range bps {
		c.writeln(bp.String())
	}
	return 0
}

func (c *Console) luaClearBreakpoints(L *lua.LState) int {
	c.check(L, c.dbg.ClearBreakpoints(c.ctx))
	return 0
}

func (c *Console) luaSaveBreakpoints(L *lua.LState) int {
	path := L.CheckString(1)
	c.check(L, c.dbg.SavePresets(path))
	return 0
}

func (c *Console) luaHelp(L *lua.LState) int {
	c.write(helpText)
	return 0
}

func (c *Console) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	c.writeln(strings.Join(parts, "\t"))
	return 0
}

// filterArgs accepts either a table {path=, methods=, body=} or positional
// (path, methods, body) arguments. nil or empty values are omitted.
func filterArgs(L *lua.LState) (wtl.Filter, error) {
	var path, methods, body lua.LValue
	if tbl, ok := L.Get(1).(*lua.LTable); ok && L.GetTop() == 1 {
		path = tbl.RawGetString("path")
		methods = tbl.RawGetString("methods")
		body = tbl.RawGetString("body")
	} else {
		path, methods, body = L.Get(1), L.Get(2), L.Get(3)
	}

	var f wtl.Filter
	var err error
	if f.Path, err = optString("path", path); err != nil {
		return f, err
	}
	if f.Body, err = optString("body", body); err != nil {
		return f, err
	}
	if f.Methods, err = optStrings("methods", methods); err != nil {
		return f, err
	}
	return f, f.Validate()
}

func optString(name string, v lua.LValue) (string, error) {
	switch v := v.(type) {
	case *lua.LNilType:
		return "", nil
	case lua.LString:
		return string(v), nil
	default:
		return "", fmt.Errorf("%s must be a string, got %s", name, v.Type())
	}
}

func optStrings(name string, v lua.LValue) ([]string, error) {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LString:
		return []string{string(v)}, nil
	case *lua.LTable:
		var out []string
		var err error
		n := v.Len()
		for i := 1; i <= n; i++ {
			s, ok := v.RawGetInt(i).(lua.LString)
			if !ok {
				err = fmt.Errorf("%s[%d] must be a string", name, i)
				break
			}
			out = append(out, string(s))
		}
		return out, err
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings, got %s", name, v.Type())
	}
}

// formatValue renders a Lua value for the REPL.
func formatValue(v lua.LValue) string {
	switch v := v.(type) {
	case lua.LString:
		return strconv.Quote(string(v))
	case *lua.LTable:
		return formatTable(v)
	default:
		return v.String()
	}
}

func formatTable(t *lua.LTable) string {
	var items []string
	n := t.Len()
	for i := 1; i <= n; i++ {
		items = append(items, formatValue(t.RawGetInt(i)))
	}

	var keyed []string
	t.ForEach(func(k, v lua.LValue) {
		if num, ok := k.(lua.LNumber); ok && float64(num) >= 1 && float64(num) <= float64(n) && float64(num) == float64(int(num)) {
			return
		}
		keyed = append(keyed, fmt.Sprintf("%s=%s", k.String(), formatValue(v)))
	})
	sort.Strings(keyed)

	return "{" + strings.Join(append(items, keyed...), ", ") + "}"
}

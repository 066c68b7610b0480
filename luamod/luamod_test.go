package luamod

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/caffeineduck/newstate/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func newHost(t *testing.T, opts ...sandbox.Option) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	Preload(L, opts...)
	return L
}

// script runs code in a fresh host state with the module bound to the
// local newstate and returns the values it returned.
func script(t *testing.T, code string) []lua.LValue {
	t.Helper()
	L := newHost(t)
	require.NoError(t, L.DoString(`local newstate = require("newstate")
`+code))
	out := make([]lua.LValue, L.GetTop())
	for i := range out {
		out[i] = L.Get(i + 1)
	}
	return out
}

func TestLoadAndRun(t *testing.T) {
	out := script(t, `
		local sb = newstate.new(true)
		assert(sb:loadstring("return 1+1"))
		return sb:run()
	`)
	assert.Equal(t, []lua.LValue{lua.LTrue, lua.LNumber(2)}, out)
}

func TestRunPassesArguments(t *testing.T) {
	out := script(t, `
		local sb = newstate.new()
		sb:loadstring("local a, b = ... return b, a, select('#', ...)")
		return sb:run("x", 3, nil)
	`)
	assert.Equal(t, []lua.LValue{lua.LTrue, lua.LNumber(3), lua.LString("x"), lua.LNumber(3)}, out)
}

func TestRuntimeError(t *testing.T) {
	out := script(t, `
		local sb = newstate.new()
		sb:loadstring("error('boom')")
		local ok, msg, status = sb:run()
		return ok, msg:find("boom") ~= nil, status == newstate.errors.ERRRUN
	`)
	assert.Equal(t, []lua.LValue{lua.LFalse, lua.LTrue, lua.LTrue}, out)
}

func TestEchoTableIsDeepCopy(t *testing.T) {
	out := script(t, `
		local sb = newstate.new()
		sb:loadstring("return ...")
		local input = {a = 1, b = {2, 3}}
		local ok, copy = sb:run(input)
		assert(ok)
		copy.b[1] = "changed"
		return copy ~= input, copy.b ~= input.b, input.b[1], copy.a, copy.b[2]
	`)
	assert.Equal(t, []lua.LValue{lua.LTrue, lua.LTrue, lua.LNumber(2), lua.LNumber(1), lua.LNumber(3)}, out)
}

func TestFunctionResultRejected(t *testing.T) {
	out := script(t, `
		local sb = newstate.new()
		sb:loadstring("return function() end")
		local ok, msg, status = sb:run()
		return ok, msg, status, status == newstate.errors.ERRTRANSFER
	`)
	assert.Equal(t, []lua.LValue{lua.LFalse, lua.LString("cannot exchange <function> value"), lua.LNumber(-1), lua.LTrue}, out)
}

func TestFunctionArgumentRejected(t *testing.T) {
	out := script(t, `
		local sb = newstate.new()
		sb:loadstring("return select('#', ...)")
		local ok, msg = sb:run({nested = {print}})
		local ok2, n = sb:run()
		return ok, msg, ok2, n
	`)
	assert.Equal(t, []lua.LValue{lua.LFalse, lua.LString("cannot exchange <function> value"), lua.LTrue, lua.LNumber(0)}, out)
}

func TestHandleCannotCross(t *testing.T) {
	out := script(t, `
		local sb = newstate.new()
		local ok, msg = sb:dostring("return ...", sb)
		return ok, msg
	`)
	assert.Equal(t, []lua.LValue{lua.LFalse, lua.LString("cannot exchange <userdata> value")}, out)
}

func TestFailedLoadKeepsEntry(t *testing.T) {
	out := script(t, `
		local sb = newstate.new()
		assert(sb:loadstring("return 'a'"))
		local ok, msg, status = sb:loadstring("return +")
		assert(not ok and status == newstate.errors.ERRSYNTAX, msg)
		local ok2, _, status2 = sb:loadfile("/nonexistent/file.lua")
		assert(not ok2 and status2 == newstate.errors.ERRFILE)
		local _, first = sb:run()
		assert(sb:loadstring("return 'b'"))
		local _, second = sb:run()
		return first, second
	`)
	assert.Equal(t, []lua.LValue{lua.LString("a"), lua.LString("b")}, out)
}

func TestDoStringAndDoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mul.lua")
	require.NoError(t, os.WriteFile(path, []byte("local a, b = ... return a * b"), 0o644))

	L := newHost(t)
	L.SetGlobal("path", lua.LString(path))
	require.NoError(t, L.DoString(`
		local newstate = require("newstate")
		local sb = newstate.new()
		local _, s = sb:dostring("return ... + 1", 41)
		local _, f = sb:dofile(path, 6, 7)
		local ok, _, status = sb:run()
		return s, f, ok, status == newstate.errors.ERRARG
	`))
	assert.Equal(t, lua.LNumber(42), L.Get(1))
	assert.Equal(t, lua.LNumber(42), L.Get(2))
	assert.Equal(t, lua.LFalse, L.Get(3), "dostring/dofile never pin")
	assert.Equal(t, lua.LTrue, L.Get(4))
}

func TestNewWithoutLibs(t *testing.T) {
	out := script(t, `
		local sb = newstate.new(false)
		local _, noprint = sb:dostring("return print == nil")
		local _, withprint = newstate.new():dostring("return print ~= nil")
		return noprint, withprint
	`)
	assert.Equal(t, []lua.LValue{lua.LTrue, lua.LTrue}, out)
}

func TestNewRejectsNonBoolean(t *testing.T) {
	L := newHost(t)
	err := L.DoString(`require("newstate").new("yes")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boolean expected")
}

func TestGC(t *testing.T) {
	out := script(t, `
		local sb = newstate.new()
		local gc = newstate.gc
		local running = sb:gc(gc.ISRUNNING)
		sb:gc(gc.STOP)
		local stopped = sb:gc(gc.ISRUNNING)
		sb:gc(gc.RESTART)
		local prev = sb:gc(gc.SETPAUSE, 150)
		local mode = sb:gc(gc.GEN, 10, 50)
		return running, stopped, prev, mode == gc.INC, sb:gc(gc.COUNT) > 0
	`)
	assert.Equal(t, []lua.LValue{lua.LTrue, lua.LFalse, lua.LNumber(200), lua.LTrue, lua.LTrue}, out)
}

func TestGCUnknownOption(t *testing.T) {
	L := newHost(t)
	err := L.DoString(`require("newstate").new():gc(99)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown gc option")
}

func TestClose(t *testing.T) {
	out := script(t, `
		local sb = newstate.new()
		assert(sb:close())
		assert(sb:close())
		local ok, msg, status = sb:loadstring("return 1")
		return ok, msg, status == newstate.errors.ERRARG
	`)
	assert.Equal(t, []lua.LValue{lua.LFalse, lua.LString("sandbox closed"), lua.LTrue}, out)
}

func TestToString(t *testing.T) {
	out := script(t, `return tostring(newstate.new()):match("^newstate: 0x%x+$") ~= nil`)
	assert.Equal(t, []lua.LValue{lua.LTrue}, out)
}

func TestNestedSandboxes(t *testing.T) {
	L := newHost(t)
	require.NoError(t, L.DoString(`
		local newstate = require("newstate")
		local outer = newstate.new()
		local inner = newstate.new()
		inner:loadstring("return ... .. '!'")
		local _, a = inner:run("hi")
		local _, b = outer:dostring("return (...):upper()", a)
		result = b
	`))
	assert.Equal(t, lua.LString("HI!"), L.GetGlobal("result"))
}

func TestErrorConstants(t *testing.T) {
	out := script(t, `
		local e = newstate.errors
		return e.ERRRUN, e.ERRSYNTAX, e.ERRMEM, e.ERRERR, e.ERRFILE, e.ERRARG, e.ERRTRANSFER
	`)
	assert.Equal(t, []lua.LValue{
		lua.LNumber(2), lua.LNumber(3), lua.LNumber(4), lua.LNumber(5),
		lua.LNumber(6), lua.LNumber(7), lua.LNumber(-1),
	}, out)
}

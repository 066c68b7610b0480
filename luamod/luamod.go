package luamod

import (
	"errors"

	"github.com/caffeineduck/newstate/sandbox"
	"github.com/caffeineduck/newstate/transfer"
	lua "github.com/yuin/gopher-lua"
)

// ModuleName is the name the module is required by and the type name of
// its handles.
const ModuleName = "newstate"

// Preload makes require("newstate") available in L. opts apply to every
// sandbox created through the module.
func Preload(L *lua.LState, opts ...sandbox.Option) {
	L.PreloadModule(ModuleName, Loader(opts...))
}

// Loader returns the module loader.
func Loader(opts ...sandbox.Option) lua.LGFunction {
	m := &module{opts: opts}
	return m.load
}

type module struct {
	opts []sandbox.Option
}

var errorCodes = map[string]sandbox.Status{
	"ERRRUN":      sandbox.StatusErrRun,
	"ERRSYNTAX":   sandbox.StatusErrSyntax,
	"ERRMEM":      sandbox.StatusErrMem,
	"ERRERR":      sandbox.StatusErrErr,
	"ERRFILE":     sandbox.StatusErrFile,
	"ERRARG":      sandbox.StatusErrArg,
	"ERRTRANSFER": sandbox.StatusErrTransfer,
}

func (m *module) load(L *lua.LState) int {
	mt := L.NewTypeMetatable(ModuleName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"loadstring": loadString,
		"loadfile":   loadFile,
		"dostring":   doString,
		"dofile":     doFile,
		"run":        run,
		"gc":         collect,
		"close":      closeHandle,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(toString))

	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"new": m.newHandle,
	})

	errs := L.CreateTable(0, len(errorCodes))
	for name, code := range errorCodes {
		errs.RawSetString(name, lua.LNumber(code))
	}
	L.SetField(mod, "errors", errs)

	gcopts := sandbox.GCOptions()
	gc := L.CreateTable(0, len(gcopts))
	for name, code := range gcopts {
		gc.RawSetString(name, lua.LNumber(code))
	}
	L.SetField(mod, "gc", gc)

	L.Push(mod)
	return 1
}

// newHandle implements new([openlibs]).
func (m *module) newHandle(L *lua.LState) int {
	openLibs := true
	if L.Get(1) != lua.LNil {
		openLibs = L.CheckBool(1)
	}

	opts := append(append([]sandbox.Option{}, m.opts...), sandbox.WithOpenLibs(openLibs))
	sb, err := sandbox.New(opts...)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		L.Push(lua.LNumber(sandbox.StatusOf(err)))
		return 3
	}

	ud := L.NewUserData()
	ud.Value = sb
	L.SetMetatable(ud, L.GetTypeMetatable(ModuleName))
	L.Push(ud)
	return 1
}

func checkSandbox(L *lua.LState) *sandbox.Sandbox {
	ud := L.CheckUserData(1)
	if sb, ok := ud.Value.(*sandbox.Sandbox); ok {
		return sb
	}
	L.ArgError(1, ModuleName+" expected")
	return nil
}

// fail pushes the failure triple false, message, status.
func fail(L *lua.LState, err error) int {
	L.Push(lua.LFalse)
	L.Push(lua.LString(err.Error()))
	L.Push(lua.LNumber(sandbox.StatusOf(err)))
	return 3
}

func loadString(L *lua.LState) int {
	return load(L, sandbox.Text(L.CheckString(2)))
}

func loadFile(L *lua.LState) int {
	return load(L, sandbox.File(L.CheckString(2)))
}

func load(L *lua.LState, src sandbox.Source) int {
	sb := checkSandbox(L)
	if err := sb.Load(src); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func run(L *lua.LState) int {
	return invoke(L, nil, 2)
}

func doString(L *lua.LState) int {
	src := sandbox.Text(L.CheckString(2))
	return invoke(L, &src, 3)
}

func doFile(L *lua.LState) int {
	src := sandbox.File(L.CheckString(2))
	return invoke(L, &src, 3)
}

// invoke calls into the sandbox with the caller's stack values from
// position first as arguments. It returns true followed by the results.
func invoke(L *lua.LState, src *sandbox.Source, first int) int {
	sb := checkSandbox(L)
	x := &caller{
		L:     L,
		first: first,
		last:  L.GetTop(),
		base:  L.GetTop(),
		opts:  sb.TransferOptions(),
	}
	if err := sb.Invoke(L.Context(), src, x); err != nil {
		L.SetTop(x.base)
		return fail(L, err)
	}
	return L.GetTop() - x.base
}

// caller exchanges values directly between the calling state and the
// sandbox, without an intermediate Go representation.
type caller struct {
	L           *lua.LState
	first, last int
	base        int
	opts        []transfer.Option
}

func (c *caller) Args(sb *lua.LState) error {
	return transfer.Copy(c.L, sb, c.first, c.last, c.opts...)
}

func (c *caller) Results(sb *lua.LState) error {
	c.L.Push(lua.LTrue)
	if err := transfer.Copy(sb, c.L, 1, sb.GetTop(), c.opts...); err != nil {
		c.L.SetTop(c.base)
		return err
	}
	return nil
}

// collect implements gc(what [, a [, b [, c]]]).
func collect(L *lua.LState) int {
	sb := checkSandbox(L)
	what := sandbox.GCOption(L.CheckInt(2))

	var args []int
	for i := 3; i <= L.GetTop() && i <= 5; i++ {
		args = append(args, L.OptInt(i, 0))
	}

	n, err := sb.Collect(what, args...)
	if err != nil {
		if errors.Is(err, sandbox.ErrUnknownGCOption) {
			L.ArgError(2, err.Error())
			return 0
		}
		return fail(L, err)
	}
	if what == sandbox.GCIsRunning {
		L.Push(lua.LBool(n != 0))
	} else {
		L.Push(lua.LNumber(n))
	}
	return 1
}

func closeHandle(L *lua.LState) int {
	sb := checkSandbox(L)
	if err := sb.Close(); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func toString(L *lua.LState) int {
	sb := checkSandbox(L)
	L.Push(lua.LString(sb.String()))
	return 1
}

package sandbox

import (
	"fmt"

	"github.com/caffeineduck/newstate/hostfunc"
	"github.com/caffeineduck/newstate/transfer"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

func (st *state) installHostFuncs(r *hostfunc.Registry) error {
	if r == nil {
		return nil
	}
	for _, name := range r.List() {
		if name == "" {
			return &Error{Status: StatusErrArg, Message: "host function with empty name"}
		}
		fn, _ := r.Get(name)
		st.L.SetGlobal(name, st.L.NewFunction(st.hostCall(name, fn)))
	}
	return nil
}

// hostCall adapts fn to the engine calling convention. Arguments and
// results cross with the sandbox's transfer rules; failures are raised as
// errors inside the sandbox.
func (st *state) hostCall(name string, fn hostfunc.Func) lua.LGFunction {
	return func(L *lua.LState) int {
		opts := st.cfg.transferOpts()
		args, err := transfer.Collect(L, 1, L.GetTop(), opts...)
		if err != nil {
			L.RaiseError("%s: %s", name, err.Error())
			return 0
		}

		out, err := fn(st.ctx, args)
		if err != nil {
			st.log.Debug("host function failed", zap.String("func", name), zap.Error(err))
			L.RaiseError("%s: %s", name, err.Error())
			return 0
		}

		base := L.GetTop()
		if err := transfer.Push(L, out, opts...); err != nil {
			L.SetTop(base)
			L.RaiseError("%s: %s", name, fmt.Sprint(err))
			return 0
		}
		return len(out)
	}
}

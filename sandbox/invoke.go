package sandbox

import (
	"context"
	"runtime"

	"github.com/caffeineduck/newstate/transfer"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Exchanger moves arguments into a sandbox and results out of it.
type Exchanger interface {
	// Args pushes the call arguments onto L.
	Args(L *lua.LState) error
	// Results receives the call results, which occupy L's whole stack.
	Results(L *lua.LState) error
}

// Invoke calls the pinned entry point, or src compiled for this call
// only when src is non-nil. It never changes the pinned entry point.
// The sandbox stack is empty when Invoke returns.
//
// A cancelled ctx interrupts the running code at the next instruction.
func (s *Sandbox) Invoke(ctx context.Context, src *Source, x Exchanger) error {
	// the cleanup attached to s must not close the engine mid-call
	defer runtime.KeepAlive(s)
	st := s.st
	if err := st.acquire(); err != nil {
		return err
	}
	defer st.release()

	L := st.L
	L.SetTop(0)
	defer L.SetTop(0)

	var fn lua.LValue
	if src != nil {
		compiled, err := src.compile(L)
		if err != nil {
			return engineError(nil, err)
		}
		fn = compiled
	} else {
		fn = st.anchors.get(st.entry)
		if fn == lua.LNil {
			return argError(ErrNoEntry)
		}
	}
	L.Push(fn)

	if err := protect(func() error { return x.Args(L) }); err != nil {
		if _, ok := err.(*Error); ok {
			return err
		}
		return transferError(err)
	}

	if err := st.call(ctx, L.GetTop()-1); err != nil {
		st.log.Debug("call failed", zap.Stringer("status", err.Status), zap.String("error", err.Message))
		return err
	}

	if err := protect(func() error { return x.Results(L) }); err != nil {
		if _, ok := err.(*Error); ok {
			return err
		}
		return transferError(err)
	}
	return nil
}

func (st *state) call(ctx context.Context, nargs int) *Error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return &Error{Status: StatusErrRun, Message: err.Error(), Err: err}
	}

	L := st.L
	if ctx.Done() != nil {
		L.SetContext(ctx)
		defer L.RemoveContext()
	}
	st.ctx = ctx
	defer func() { st.ctx = context.Background() }()

	if err := L.PCall(nargs, lua.MultRet, nil); err != nil {
		return engineError(ctx, err)
	}
	return nil
}

// Run calls the pinned entry point with args and returns its results.
func (s *Sandbox) Run(ctx context.Context, args ...transfer.Value) ([]transfer.Value, error) {
	x := s.values(args)
	if err := s.Invoke(ctx, nil, x); err != nil {
		return nil, err
	}
	return x.out, nil
}

// DoString compiles code and calls it once with args. The pinned entry
// point is not changed.
func (s *Sandbox) DoString(ctx context.Context, code string, args ...transfer.Value) ([]transfer.Value, error) {
	return s.Do(ctx, Text(code), args...)
}

// DoFile is DoString for the code read from path.
func (s *Sandbox) DoFile(ctx context.Context, path string, args ...transfer.Value) ([]transfer.Value, error) {
	return s.Do(ctx, File(path), args...)
}

func (s *Sandbox) Do(ctx context.Context, src Source, args ...transfer.Value) ([]transfer.Value, error) {
	x := s.values(args)
	if err := s.Invoke(ctx, &src, x); err != nil {
		return nil, err
	}
	return x.out, nil
}

func (s *Sandbox) values(args []transfer.Value) *values {
	return &values{in: args, opts: s.st.cfg.transferOpts()}
}

// values exchanges Go values.
type values struct {
	in   []transfer.Value
	out  []transfer.Value
	opts []transfer.Option
}

func (v *values) Args(L *lua.LState) error {
	return transfer.Push(L, v.in, v.opts...)
}

func (v *values) Results(L *lua.LState) error {
	out, err := transfer.Collect(L, 1, L.GetTop(), v.opts...)
	if err != nil {
		return err
	}
	v.out = out
	return nil
}

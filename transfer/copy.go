package transfer

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ErrRange is returned when a stack range does not lie within the stack.
var ErrRange = errors.New("stack index out of range")

// Copy copies the values at positions first..last of src's stack, in order,
// onto dst's stack. Negative indices count from the top of src. An empty
// range (first > last) copies nothing.
//
// All values are built before anything is pushed: on failure dst's stack is
// left as it was and no partially built table is reachable from dst.
func Copy(src, dst *lua.LState, first, last int, opts ...Option) error {
	cfg := newConfig(opts)

	lo, hi, err := bounds(src, first, last)
	if err != nil {
		return err
	}
	if lo > hi {
		return nil
	}

	out := make([]lua.LValue, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		v, err := cfg.copyValue(dst, src.Get(i), 0)
		if err != nil {
			return err
		}
		out = append(out, v)
	}
	for _, v := range out {
		dst.Push(v)
	}
	return nil
}

// CopyValue copies a single value so that it can be stored in dst.
func CopyValue(dst *lua.LState, lv lua.LValue, opts ...Option) (lua.LValue, error) {
	cfg := newConfig(opts)
	return cfg.copyValue(dst, lv, 0)
}

func (c config) copyValue(dst *lua.LState, lv lua.LValue, depth int) (lua.LValue, error) {
	switch lv.Type() {
	case lua.LTNil, lua.LTBool, lua.LTNumber, lua.LTString:
		// immutable in the engine, so sharing the Go value aliases nothing
		return lv, nil

	case lua.LTUserData:
		if a, ok := addressOf(lv.(*lua.LUserData)); ok {
			return NewAddress(dst, a), nil
		}

	case lua.LTTable:
		if depth >= c.maxDepth {
			return nil, tooDeep(c.maxDepth)
		}
		src := lv.(*lua.LTable)
		out := dst.CreateTable(src.Len(), 0)
		for k, v := src.Next(lua.LNil); k != lua.LNil; k, v = src.Next(k) {
			ck, err := c.copyValue(dst, k, depth+1)
			if err != nil {
				return nil, err
			}
			cv, err := c.copyValue(dst, v, depth+1)
			if err != nil {
				return nil, err
			}
			out.RawSet(ck, cv)
		}
		return out, nil
	}

	return nil, &RejectError{Type: lv.Type().String()}
}

// NewAddress returns a light userdata carrying a.
func NewAddress(L *lua.LState, a Address) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = a
	return ud
}

// addressOf recognizes light userdata: an Address payload and no metatable.
func addressOf(ud *lua.LUserData) (Address, bool) {
	a, ok := ud.Value.(Address)
	if !ok {
		return 0, false
	}
	return a, ud.Metatable == nil || ud.Metatable == lua.LNil
}

func bounds(L *lua.LState, first, last int) (int, int, error) {
	top := L.GetTop()
	lo, hi := absIndex(top, first), absIndex(top, last)
	if lo > hi {
		return lo, hi, nil
	}
	if lo < 1 || hi > top {
		return 0, 0, fmt.Errorf("%w: %d..%d with %d values", ErrRange, first, last, top)
	}
	return lo, hi, nil
}

func absIndex(top, idx int) int {
	if idx < 0 {
		return top + idx + 1
	}
	return idx
}

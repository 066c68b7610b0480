package transfer

import (
	lua "github.com/yuin/gopher-lua"
)

// ToLua converts v into a value owned by L. Tables are deep copied.
func ToLua(L *lua.LState, v Value, opts ...Option) (lua.LValue, error) {
	cfg := newConfig(opts)
	return cfg.toLua(L, v, 0)
}

// FromLua converts lv into a Value. Tables are deep copied; functions,
// full userdata, threads and channels are rejected.
func FromLua(lv lua.LValue, opts ...Option) (Value, error) {
	cfg := newConfig(opts)
	return cfg.fromLua(lv, 0)
}

// Push converts vals and pushes them onto L's stack in order. Nothing is
// pushed if any conversion fails.
func Push(L *lua.LState, vals []Value, opts ...Option) error {
	cfg := newConfig(opts)
	out := make([]lua.LValue, 0, len(vals))
	for _, v := range vals {
		lv, err := cfg.toLua(L, v, 0)
		if err != nil {
			return err
		}
		out = append(out, lv)
	}
	for _, lv := range out {
		L.Push(lv)
	}
	return nil
}

// Collect converts the values at positions first..last of L's stack.
func Collect(L *lua.LState, first, last int, opts ...Option) ([]Value, error) {
	cfg := newConfig(opts)
	lo, hi, err := bounds(L, first, last)
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, nil
	}
	out := make([]Value, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		v, err := cfg.fromLua(L.Get(i), 0)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c config) toLua(L *lua.LState, v Value, depth int) (lua.LValue, error) {
	switch v := v.(type) {
	case nil, Nil:
		return lua.LNil, nil
	case Bool:
		return lua.LBool(v), nil
	case Number:
		return lua.LNumber(v), nil
	case String:
		return lua.LString(v), nil
	case Address:
		return NewAddress(L, v), nil
	case *Table:
		if v == nil {
			return lua.LNil, nil
		}
		if depth >= c.maxDepth {
			return nil, tooDeep(c.maxDepth)
		}
		n := v.Len()
		out := L.CreateTable(n, v.Count()-n)
		for _, p := range v.pairs {
			k, err := c.toLua(L, p.Key, depth+1)
			if err != nil {
				return nil, err
			}
			val, err := c.toLua(L, p.Value, depth+1)
			if err != nil {
				return nil, err
			}
			out.RawSet(k, val)
		}
		return out, nil
	}
	return nil, &RejectError{Type: "unknown"}
}

func (c config) fromLua(lv lua.LValue, depth int) (Value, error) {
	switch v := lv.(type) {
	case lua.LBool:
		return Bool(v), nil
	case lua.LNumber:
		return Number(v), nil
	case lua.LString:
		return String(v), nil
	case *lua.LUserData:
		if a, ok := addressOf(v); ok {
			return a, nil
		}
	case *lua.LTable:
		if depth >= c.maxDepth {
			return nil, tooDeep(c.maxDepth)
		}
		out := NewTable(v.Len())
		for k, val := v.Next(lua.LNil); k != lua.LNil; k, val = v.Next(k) {
			gk, err := c.fromLua(k, depth+1)
			if err != nil {
				return nil, err
			}
			gv, err := c.fromLua(val, depth+1)
			if err != nil {
				return nil, err
			}
			if err := out.Set(gk, gv); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		if lv == nil || lv.Type() == lua.LTNil {
			return Nil{}, nil
		}
	}
	return nil, &RejectError{Type: lv.Type().String()}
}

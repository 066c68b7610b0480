package sandbox

import (
	lua "github.com/yuin/gopher-lua"
)

const anchorsKey = "newstate.anchors"

// noAnchor marks an unset slot.
const noAnchor = 0

// anchors keeps values alive between operations. Each value occupies an
// integer slot of a private table stored in the engine registry; released
// slots are reused.
type anchors struct {
	tbl  *lua.LTable
	free []int
	next int
}

func newAnchors(L *lua.LState) *anchors {
	tbl := L.NewTable()
	L.Get(lua.RegistryIndex).(*lua.LTable).RawSetString(anchorsKey, tbl)
	return &anchors{tbl: tbl}
}

func (a *anchors) ref(v lua.LValue) int {
	var slot int
	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.next++
		slot = a.next
	}
	a.tbl.RawSetInt(slot, v)
	return slot
}

func (a *anchors) unref(slot int) {
	if slot == noAnchor {
		return
	}
	a.tbl.RawSetInt(slot, lua.LNil)
	a.free = append(a.free, slot)
}

func (a *anchors) get(slot int) lua.LValue {
	if slot == noAnchor {
		return lua.LNil
	}
	return a.tbl.RawGetInt(slot)
}

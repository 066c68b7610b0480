// Package luamod exposes sandboxes to Lua code running in another state.
//
//	L := lua.NewState()
//	luamod.Preload(L)
//
// makes the module available to scripts:
//
//	local newstate = require("newstate")
//	local sb = newstate.new()          -- new(false) skips the standard libraries
//	assert(sb:loadstring("return ... * 2"))
//	print(sb:run(21))                  --> true  42
//	print(sb:dostring("error('x', 0)")) --> false  x  2
//	sb:close()
//
// Every method returns true followed by its results on success, and
// false, message, status on failure. The status codes are exported in
// newstate.errors and the collector options in newstate.gc:
//
//	sb:gc(newstate.gc.COLLECT)
//	sb:gc(newstate.gc.ISRUNNING)       --> true
//
// Values are copied directly between the calling state and the sandbox.
// Functions, userdata (including sandbox handles), threads and channels
// cannot be passed.
package luamod

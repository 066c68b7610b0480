// Package transfer copies plain data values between independent Lua states
// and between a Lua state and Go.
//
// # Overview
//
// Only a bounded set of value kinds may cross a state boundary: nil,
// booleans, numbers, strings (arbitrary bytes), opaque addresses, and tables
// built recursively from those kinds. Functions, full userdata, coroutines
// and channels are rejected with a [*RejectError]. Every table is deep
// copied, so the copy never shares storage with its source.
//
// # Stack to Stack
//
// [Copy] moves a contiguous range of one state's stack onto another's:
//
//	if err := transfer.Copy(caller, sandbox, 2, caller.GetTop()); err != nil {
//	    // nothing was pushed onto sandbox
//	}
//
// # Go Values
//
// [Value] is the Go form of a transferable value. [ToLua] and [FromLua]
// convert single values, [Push] and [Collect] convert stack ranges:
//
//	t := transfer.NewTable(0)
//	t.Set(transfer.String("a"), transfer.Number(1))
//	lv, _ := transfer.ToLua(L, t)
//
// # Depth
//
// Nesting is limited to [DefaultMaxDepth] levels unless [WithMaxDepth] says
// otherwise. Cyclic tables exceed any limit and fail with [ErrTooDeep].
package transfer

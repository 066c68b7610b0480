// Package sandbox runs Lua code in an isolated interpreter.
//
// A [Sandbox] owns one engine state that shares nothing with the caller.
// Code is compiled into it with [Sandbox.Load] and pinned as the entry
// point; [Sandbox.Run] calls the entry point with arguments copied in and
// copies its results out. Values cross the boundary with the rules of the
// transfer package: scalars by value, tables as deep copies, everything
// else rejected.
//
// # Basic Usage
//
//	sb, err := sandbox.New()
//	if err != nil {
//	    return err
//	}
//	defer sb.Close()
//
//	if err := sb.LoadString("return 1 + 1"); err != nil {
//	    return err
//	}
//	out, err := sb.Run(ctx) // [2]
//
// # Failures
//
// Nothing raised inside the sandbox escapes as a panic. Every failure is
// an [*Error] whose [Status] tells load-time, run-time, resource and
// transfer failures apart:
//
//	_, err := sb.Run(ctx)
//	switch sandbox.StatusOf(err) {
//	case sandbox.StatusOK:
//	case sandbox.StatusErrRun:      // error raised by the code
//	case sandbox.StatusErrTransfer: // result could not be copied out
//	}
//
// A failed load leaves the previous entry point pinned. After every
// operation, successful or not, the sandbox stack is empty.
//
// # Concurrency
//
// A Sandbox is single-caller. Concurrent or reentrant use fails fast
// with [ErrBusy]; distinct sandboxes are independent and may run in
// parallel. Cancelling the context passed to Run interrupts the code at
// the next instruction.
//
// # Collector
//
// [Sandbox.Collect] exposes the collector controls as opaque [GCOption]
// codes. The sandbox's own collectgarbage function follows the same
// per-sandbox policy.
package sandbox

// Package executor runs untrusted Lua code in isolated sandboxes with a
// timeout and an explicit set of host capabilities.
//
// # Overview
//
// The executor supports both stateless execution (a single Run call in a
// fresh sandbox) and stateful sessions (a sandbox whose globals and
// pinned entry point persist across calls). Values cross the boundary as
// [transfer.Value] copies in both directions.
//
// # Basic Usage
//
//	exec, err := executor.New(hostfunc.NewRegistry())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	result := exec.Run(ctx, `local a, b = ... return a + b`,
//	    []transfer.Value{transfer.Number(1), transfer.Number(2)})
//	fmt.Println(result.Values) // [3]
//
// # Sessions
//
// Sessions maintain state across calls:
//
//	session, err := exec.NewSession()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	session.Load(`count = (count or 0) + 1 return count`)
//	session.Run(ctx) // [1]
//	session.Run(ctx) // [2]
//
// A session serves one call at a time. A concurrent call, or a host
// function calling back into its own session, fails with ErrSessionBusy.
//
// # Capabilities
//
// Sandboxed code sees only time_now and the functions of the executor's
// registry by default. Enable capabilities explicitly:
//
//	session, _ := exec.NewSession(
//	    executor.WithSessionAllowedHosts([]string{"api.example.com"}),
//	    executor.WithSessionKV(hostfunc.DefaultKVConfig()),
//	)
package executor

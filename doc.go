// Package newstate runs untrusted Lua code in isolated sandboxes.
//
// # Overview
//
// Each sandbox owns a private interpreter. Nothing is shared between
// sandboxes or with the host: arguments and results cross the boundary as
// copies, and only nil, booleans, numbers, strings, tables and light
// addresses can cross. Functions, coroutines and full userdata are
// rejected. Network and storage access must be enabled explicitly.
//
// # Basic Usage
//
//	sb, _ := sandbox.New()
//	defer sb.Close()
//
//	// Pin an entry point and call it with arguments
//	sb.LoadString(`local a, b = ... return a + b`)
//	vals, err := sb.Run(ctx, transfer.Number(1), transfer.Number(2)) // 3
//
// # Executor and Sessions
//
//	exec, _ := executor.New(hostfunc.NewRegistry())
//	defer exec.Close()
//
//	// Stateless execution
//	result := exec.Run(ctx, `return 6 * 7`, nil)
//
//	// Session with persistent state
//	session, _ := exec.NewSession()
//	session.Do(ctx, `x = 42`)
//	session.Do(ctx, `return x`) // 42
//
// # Enabling Capabilities
//
//	// HTTP access
//	result := exec.Run(ctx, code, nil,
//	    executor.WithAllowedHosts([]string{"api.example.com"}))
//
//	// Key-value store
//	result := exec.Run(ctx, code, nil, executor.WithKV())
//
// See the [sandbox], [transfer], [executor], [hostfunc], [codec] and
// [luamod] packages for detailed API documentation.
package newstate

// Package hostfunc provides host function implementations for sandboxed Lua code.
//
// Host functions are Go functions that can be called from within a sandbox,
// enabling controlled access to external resources like HTTP and key-value
// storage. They are installed as globals; arguments and results cross the
// boundary with the same rules as every other exchange, so tables arrive as
// independent copies and functions cannot be passed.
//
// # Overview
//
// Sandboxed code has no implicit access to system resources. Each capability
// must be explicitly enabled via a [Registry] and appropriate configuration.
// A returned error is raised inside the sandbox as a Lua error and can be
// caught with pcall.
//
// # Registry
//
// The [Registry] manages available host functions. Register custom functions
// or use the built-in helpers:
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("double", func(ctx context.Context, args []transfer.Value) ([]transfer.Value, error) {
//	    n, _ := args[0].(transfer.Number)
//	    return []transfer.Value{n * 2}, nil
//	})
//
// # Built-in Capabilities
//
// HTTP: Controlled network access via [HTTP] and [HTTPConfig].
//
//	http := hostfunc.NewHTTP(hostfunc.HTTPConfig{
//	    AllowedHosts: []string{"api.example.com"},
//	})
//	http.Register(registry) // http_request, http_get
//
// Key-Value Store: In-memory storage via [KV] and [KVConfig].
//
//	kv := hostfunc.NewKV(hostfunc.DefaultKVConfig())
//	kv.Register(registry) // kv_get, kv_set, kv_delete, kv_keys
//
// # Security Model
//
// All host functions follow the principle of least privilege:
//   - HTTP requests are limited to explicitly allowed hosts
//   - KV keys, encoded values and entry counts are bounded
//
// See the executor package for higher-level APIs that configure these
// capabilities automatically.
package hostfunc

// Package config loads configuration for the newstate tools.
//
// Values come from three layers, later ones winning:
//   - Default()
//   - an optional YAML file
//   - environment variables prefixed with NEWSTATE_
//
// Command line flags override the result.
//
// Environment Variables:
//   - NEWSTATE_LOG_LEVEL, NEWSTATE_LOG_DEVELOPMENT
//   - NEWSTATE_SANDBOX_OPEN_LIBS, NEWSTATE_SANDBOX_MAX_DEPTH, NEWSTATE_SANDBOX_CALL_STACK_SIZE
//   - NEWSTATE_EXEC_TIMEOUT, NEWSTATE_EXEC_KV, NEWSTATE_EXEC_ALLOWED_HOSTS
//   - NEWSTATE_SERVER_ADDR, NEWSTATE_SERVER_SESSION_TTL, NEWSTATE_SERVER_MAX_SESSIONS
//   - NEWSTATE_RATE_LIMIT_RPS, NEWSTATE_RATE_LIMIT_BURST, NEWSTATE_RATE_LIMIT_ENABLED
package config

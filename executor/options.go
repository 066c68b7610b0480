package executor

import (
	"time"

	"github.com/caffeineduck/newstate/hostfunc"
	"github.com/caffeineduck/newstate/sandbox"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a call when no timeout option is given.
const DefaultTimeout = 30 * time.Second

// capabilities selects the host functions installed into a sandbox on top
// of the executor's registry.
type capabilities struct {
	timeout time.Duration

	kvEnabled bool
	kvStore   *hostfunc.KV
	kvConfig  hostfunc.KVConfig

	httpConfig hostfunc.HTTPConfig
}

func defaultCapabilities() capabilities {
	return capabilities{
		timeout:  DefaultTimeout,
		kvConfig: hostfunc.DefaultKVConfig(),
	}
}

// registry builds the host functions for one sandbox: everything in base,
// time_now, and the enabled capabilities.
func (c capabilities) registry(base *hostfunc.Registry) (*hostfunc.Registry, *hostfunc.KV) {
	r := hostfunc.NewRegistry()
	r.Merge(base)
	r.Register("time_now", hostfunc.Now)

	var kv *hostfunc.KV
	if c.kvEnabled {
		kv = c.kvStore
		if kv == nil {
			kv = hostfunc.NewKV(c.kvConfig)
		}
		kv.Register(r)
	}

	if len(c.httpConfig.AllowedHosts) > 0 {
		hostfunc.NewHTTP(c.httpConfig).Register(r)
	}
	return r, kv
}

// Option configures a single Run.
type Option func(*runConfig)

type runConfig struct {
	capabilities
}

func defaultRunConfig() runConfig {
	return runConfig{capabilities: defaultCapabilities()}
}

// WithTimeout sets the maximum execution time. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(c *runConfig) {
		c.timeout = d
	}
}

// WithAllowedHosts installs http_request and http_get, limited to hosts.
func WithAllowedHosts(hosts []string) Option {
	return func(c *runConfig) {
		c.httpConfig.AllowedHosts = hosts
	}
}

// WithKV installs a fresh KV store for the run.
func WithKV() Option {
	return func(c *runConfig) {
		c.kvEnabled = true
	}
}

// WithKVStore installs kv, which outlives the run.
func WithKVStore(kv *hostfunc.KV) Option {
	return func(c *runConfig) {
		c.kvEnabled = true
		c.kvStore = kv
	}
}

// Security limit options

// WithKVMaxKeySize sets the maximum key size for KV store operations.
func WithKVMaxKeySize(size int) Option {
	return func(c *runConfig) {
		c.kvConfig.MaxKeySize = size
	}
}

// WithKVMaxValueSize sets the maximum encoded value size for KV store
// operations.
func WithKVMaxValueSize(size int) Option {
	return func(c *runConfig) {
		c.kvConfig.MaxValueSize = size
	}
}

// WithKVMaxEntries sets the maximum number of entries in the KV store.
func WithKVMaxEntries(n int) Option {
	return func(c *runConfig) {
		c.kvConfig.MaxEntries = n
	}
}

// WithHTTPMaxURLLength sets the maximum URL length for HTTP requests.
func WithHTTPMaxURLLength(size int) Option {
	return func(c *runConfig) {
		c.httpConfig.MaxURLLength = size
	}
}

// WithHTTPMaxBodySize sets the maximum response body size for HTTP requests.
func WithHTTPMaxBodySize(size int64) Option {
	return func(c *runConfig) {
		c.httpConfig.MaxBodySize = size
	}
}

func WithHTTPTimeout(d time.Duration) Option {
	return func(c *runConfig) {
		c.httpConfig.RequestTimeout = d
	}
}

// Recorder receives executor events. *metrics.Metrics implements it.
type Recorder interface {
	RecordCall(op, status string, d time.Duration)
	SandboxOpened()
	SandboxClosed()
	SessionOpened()
	SessionClosed()
}

type nopRecorder struct{}

func (nopRecorder) RecordCall(string, string, time.Duration) {}
func (nopRecorder) SandboxOpened()                           {}
func (nopRecorder) SandboxClosed()                           {}
func (nopRecorder) SessionOpened()                           {}
func (nopRecorder) SessionClosed()                           {}

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	sandboxOpts []sandbox.Option
	logger      *zap.Logger
	recorder    Recorder
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
}

// WithSandboxOptions applies opts to every sandbox the executor creates.
// Host functions are managed by the executor; a sandbox.WithHostFuncs
// option here is overridden.
//
// Examples:
//
//	executor.New(registry, executor.WithSandboxOptions(sandbox.WithOpenLibs(false)))
//	executor.New(registry, executor.WithSandboxOptions(sandbox.WithCallStackSize(64)))
func WithSandboxOptions(opts ...sandbox.Option) ExecutorOption {
	return func(c *executorConfig) {
		c.sandboxOpts = append(c.sandboxOpts, opts...)
	}
}

func WithLogger(l *zap.Logger) ExecutorOption {
	return func(c *executorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder reports calls and open sandboxes to r.
func WithRecorder(r Recorder) ExecutorOption {
	return func(c *executorConfig) {
		if r != nil {
			c.recorder = r
		}
	}
}

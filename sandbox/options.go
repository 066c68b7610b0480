package sandbox

import (
	"github.com/caffeineduck/newstate/hostfunc"
	"github.com/caffeineduck/newstate/transfer"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Option configures a Sandbox at construction.
type Option func(*config)

type config struct {
	openLibs        bool
	maxDepth        int
	callStackSize   int
	registrySize    int
	registryMaxSize int
	hostFuncs       *hostfunc.Registry
	logger          *zap.Logger
}

func defaultConfig() config {
	return config{
		openLibs:      true,
		maxDepth:      transfer.DefaultMaxDepth,
		callStackSize: lua.CallStackSize,
		registrySize:  lua.RegistrySize,
	}
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return cfg
}

func (c config) transferOpts() []transfer.Option {
	return []transfer.Option{transfer.WithMaxDepth(c.maxDepth)}
}

// WithOpenLibs controls whether the standard libraries are loaded.
// The default is true.
func WithOpenLibs(open bool) Option {
	return func(c *config) {
		c.openLibs = open
	}
}

// WithMaxDepth bounds table nesting for values crossing the boundary.
func WithMaxDepth(n int) Option {
	return func(c *config) {
		c.maxDepth = n
	}
}

// WithCallStackSize sets the maximum call depth inside the sandbox.
func WithCallStackSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.callStackSize = n
		}
	}
}

// WithRegistrySize sets the initial data stack size.
func WithRegistrySize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.registrySize = n
		}
	}
}

// WithRegistryMaxSize lets the data stack grow up to n slots. Exhausting
// it fails the call with StatusErrMem.
func WithRegistryMaxSize(n int) Option {
	return func(c *config) {
		c.registryMaxSize = n
	}
}

// WithHostFuncs installs every function of r as a global.
func WithHostFuncs(r *hostfunc.Registry) Option {
	return func(c *config) {
		c.hostFuncs = r
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

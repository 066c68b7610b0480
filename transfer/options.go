package transfer

// DefaultMaxDepth bounds table nesting. It matches LUAI_MAXCCALLS of
// PUC Lua 5.1.
const DefaultMaxDepth = 200

// Option configures a transfer.
type Option func(*config)

type config struct {
	maxDepth int
}

func newConfig(opts []Option) config {
	cfg := config{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxDepth < 1 {
		cfg.maxDepth = DefaultMaxDepth
	}
	return cfg
}

// WithMaxDepth sets the maximum table nesting. Values below 1 select
// DefaultMaxDepth.
func WithMaxDepth(n int) Option {
	return func(c *config) {
		c.maxDepth = n
	}
}

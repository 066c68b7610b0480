package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/caffeineduck/newstate/hostfunc"
	"github.com/caffeineduck/newstate/sandbox"
	"github.com/caffeineduck/newstate/transfer"
	"go.uber.org/zap"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSessionBusy   = errors.New("session busy")
)

// Session owns one sandbox whose globals and pinned entry point persist
// across calls. Calls never queue: a call made while another is running
// fails with ErrSessionBusy.
type Session struct {
	exec *Executor
	cfg  sessionConfig
	sb   *sandbox.Sandbox
	kv   *hostfunc.KV
	log  *zap.Logger

	mu     sync.Mutex
	execMu sync.Mutex
	closed bool
	cancel context.CancelFunc
}

type sessionConfig struct {
	capabilities
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{capabilities: defaultCapabilities()}
}

type SessionOption func(*sessionConfig)

// WithSessionTimeout bounds every call made through the session.
func WithSessionTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.timeout = d
	}
}

func WithSessionAllowedHosts(hosts []string) SessionOption {
	return func(c *sessionConfig) {
		c.httpConfig.AllowedHosts = hosts
	}
}

func WithSessionHTTPTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.httpConfig.RequestTimeout = d
	}
}

func WithSessionHTTPMaxURLLength(size int) SessionOption {
	return func(c *sessionConfig) {
		c.httpConfig.MaxURLLength = size
	}
}

func WithSessionHTTPMaxBodySize(size int64) SessionOption {
	return func(c *sessionConfig) {
		c.httpConfig.MaxBodySize = size
	}
}

// WithSessionKV installs a KV store private to the session.
func WithSessionKV(cfg hostfunc.KVConfig) SessionOption {
	return func(c *sessionConfig) {
		c.kvEnabled = true
		c.kvConfig = cfg
	}
}

// WithSessionKVStore installs kv, which may be shared with other sessions.
func WithSessionKVStore(kv *hostfunc.KV) SessionOption {
	return func(c *sessionConfig) {
		c.kvEnabled = true
		c.kvStore = kv
	}
}

// NewSession creates a session with its own sandbox.
func (e *Executor) NewSession(opts ...SessionOption) (*Session, error) {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	registry, kv := cfg.registry(e.registry)
	sb, err := e.newSandbox(registry)
	if err != nil {
		return nil, err
	}

	s := &Session{
		exec: e,
		cfg:  cfg,
		sb:   sb,
		kv:   kv,
		log:  e.log.With(zap.Stringer("sandbox", sb)),
	}
	if err := e.track(s); err != nil {
		e.closeSandbox(sb)
		return nil, err
	}
	e.cfg.recorder.SessionOpened()
	s.log.Debug("session opened")
	return s, nil
}

// Load compiles code and pins it as the session's entry point.
func (s *Session) Load(code string) error {
	return s.call(context.Background(), "load", func(context.Context) ([]transfer.Value, error) {
		return nil, s.sb.LoadString(code)
	}).Error
}

// LoadFile is Load for the code read from path.
func (s *Session) LoadFile(path string) error {
	return s.call(context.Background(), "load", func(context.Context) ([]transfer.Value, error) {
		return nil, s.sb.LoadFile(path)
	}).Error
}

// Run calls the pinned entry point with args.
func (s *Session) Run(ctx context.Context, args ...transfer.Value) Result {
	return s.call(ctx, "run", func(ctx context.Context) ([]transfer.Value, error) {
		return s.sb.Run(ctx, args...)
	})
}

// Do runs code once without changing the entry point. Globals it sets
// stay visible to later calls.
func (s *Session) Do(ctx context.Context, code string, args ...transfer.Value) Result {
	return s.call(ctx, "do", func(ctx context.Context) ([]transfer.Value, error) {
		return s.sb.DoString(ctx, code, args...)
	})
}

// DoFile is Do for the code read from path.
func (s *Session) DoFile(ctx context.Context, path string, args ...transfer.Value) Result {
	return s.call(ctx, "do", func(ctx context.Context) ([]transfer.Value, error) {
		return s.sb.DoFile(ctx, path, args...)
	})
}

// Collect controls the session's garbage collector.
func (s *Session) Collect(what sandbox.GCOption, args ...int) (int, error) {
	var n int
	res := s.call(context.Background(), "gc", func(context.Context) ([]transfer.Value, error) {
		var err error
		n, err = s.sb.Collect(what, args...)
		return nil, err
	})
	return n, res.Error
}

// KV returns the session's KV store, or nil when none is installed.
func (s *Session) KV() *hostfunc.KV {
	return s.kv
}

func (s *Session) call(ctx context.Context, op string, fn func(context.Context) ([]transfer.Value, error)) Result {
	start := time.Now()
	finish := func(vals []transfer.Value, err error) Result {
		d := time.Since(start)
		s.exec.cfg.recorder.RecordCall(op, statusLabel(err), d)
		return Result{Values: vals, Duration: d, Error: err}
	}

	if s.isClosed() {
		return finish(nil, ErrSessionClosed)
	}
	if !s.execMu.TryLock() {
		return finish(nil, ErrSessionBusy)
	}
	defer s.execMu.Unlock()

	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return finish(nil, err)
	}
	defer s.end(cancel)

	vals, err := fn(ctx)
	if err != nil {
		s.log.Debug("call failed", zap.String("op", op), zap.Error(err))
	}
	return finish(vals, callError(ctx, s.cfg.timeout, err))
}

// begin derives the call context and publishes its cancel function so
// Close can interrupt the call.
func (s *Session) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrSessionClosed
	}

	var cancel context.CancelFunc
	if s.cfg.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	s.cancel = cancel
	return ctx, cancel, nil
}

func (s *Session) end(cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close interrupts a running call, waits for it to return and closes the
// sandbox. It must not be called from a host function of the same session.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.execMu.Lock()
	defer s.execMu.Unlock()

	err := s.exec.closeSandbox(s.sb)
	s.exec.forget(s)
	s.exec.cfg.recorder.SessionClosed()
	s.log.Debug("session closed")
	return err
}

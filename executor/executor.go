package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/newstate/hostfunc"
	"github.com/caffeineduck/newstate/sandbox"
	"github.com/caffeineduck/newstate/transfer"
	"go.uber.org/zap"
)

var ErrExecutorClosed = errors.New("executor closed")

// Result holds the values returned by the code and metadata about the call.
type Result struct {
	Values   []transfer.Value
	Duration time.Duration
	Error    error
}

// Executor creates sandboxes that share a host function registry and a
// set of sandbox options.
type Executor struct {
	registry *hostfunc.Registry
	cfg      executorConfig
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// New creates an Executor with the given host function registry. The
// registry may be nil.
func New(registry *hostfunc.Registry, opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	// fail early on options the engine cannot start with
	probe, err := sandbox.New(cfg.sandboxOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	probe.Close()

	return &Executor{
		registry: registry,
		cfg:      cfg,
		log:      cfg.logger,
		sessions: make(map[*Session]struct{}),
	}, nil
}

// Run executes code in a fresh sandbox with args and closes the sandbox.
func (e *Executor) Run(ctx context.Context, code string, args []transfer.Value, opts ...Option) Result {
	start := time.Now()

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if e.isClosed() {
		return Result{Error: ErrExecutorClosed, Duration: time.Since(start)}
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	registry, _ := cfg.registry(e.registry)
	sb, err := e.newSandbox(registry)
	if err != nil {
		e.cfg.recorder.RecordCall("run", statusLabel(err), time.Since(start))
		return Result{Error: err, Duration: time.Since(start)}
	}
	defer e.closeSandbox(sb)

	vals, err := sb.DoString(ctx, code, args...)
	result := Result{
		Values:   vals,
		Duration: time.Since(start),
		Error:    callError(ctx, cfg.timeout, err),
	}
	e.cfg.recorder.RecordCall("run", statusLabel(err), result.Duration)
	if err != nil {
		e.log.Debug("run failed", zap.Error(err), zap.Duration("duration", result.Duration))
	}
	return result
}

func (e *Executor) newSandbox(registry *hostfunc.Registry) (*sandbox.Sandbox, error) {
	opts := append([]sandbox.Option{}, e.cfg.sandboxOpts...)
	opts = append(opts, sandbox.WithHostFuncs(registry), sandbox.WithLogger(e.log))
	sb, err := sandbox.New(opts...)
	if err != nil {
		return nil, err
	}
	e.cfg.recorder.SandboxOpened()
	return sb, nil
}

func (e *Executor) closeSandbox(sb *sandbox.Sandbox) error {
	if err := sb.Close(); err != nil {
		return err
	}
	e.cfg.recorder.SandboxClosed()
	return nil
}

func (e *Executor) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Executor) track(s *Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.sessions[s] = struct{}{}
	return nil
}

func (e *Executor) forget(s *Session) {
	e.mu.Lock()
	delete(e.sessions, s)
	e.mu.Unlock()
}

// Close closes every open session. Run and NewSession fail afterwards.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// callError reports a call that ran out of time as a timeout, keeping the
// sandbox error in the chain.
func callError(ctx context.Context, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timeout after %v: %w", timeout, err)
	}
	return err
}

func statusLabel(err error) string {
	switch {
	case errors.Is(err, ErrSessionBusy):
		return "busy"
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrExecutorClosed):
		return "closed"
	}
	return sandbox.StatusOf(err).String()
}

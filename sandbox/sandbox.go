package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/caffeineduck/newstate/transfer"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Sandbox is an isolated interpreter with one pinned entry point.
//
// A Sandbox serves one call at a time. A second call made while another
// is in flight, including one made from a host function running inside
// the sandbox, fails with ErrBusy.
type Sandbox struct {
	st      *state
	cleanup runtime.Cleanup
}

// state is everything reachable from the engine. Functions installed
// into the engine capture state, never the Sandbox, so an abandoned
// Sandbox stays collectable.
type state struct {
	L       *lua.LState
	cfg     config
	log     *zap.Logger
	anchors *anchors
	entry   int
	gc      gcPolicy
	busy    atomic.Bool
	closed  bool

	// ctx is the context of the call in flight, passed to host functions.
	ctx context.Context
}

// New creates a sandbox. A failure to construct the engine is reported as
// an *Error with StatusErrMem wrapping ErrUnavailable.
func New(opts ...Option) (*Sandbox, error) {
	cfg := newConfig(opts)

	st, err := newState(cfg)
	if err != nil {
		cfg.logger.Warn("sandbox unavailable", zap.Error(err))
		return nil, err
	}

	s := &Sandbox{st: st}
	s.cleanup = runtime.AddCleanup(s, func(st *state) {
		st.close()
	}, st)

	st.log = cfg.logger.With(zap.String("sandbox", s.String()))
	st.log.Debug("sandbox created", zap.Bool("openlibs", cfg.openLibs))
	return s, nil
}

func newState(cfg config) (st *state, err error) {
	var L *lua.LState
	defer func() {
		if r := recover(); r != nil {
			if L != nil {
				L.Close()
			}
			st = nil
			err = &Error{Status: StatusErrMem, Message: fmt.Sprintf("%s: %v", ErrUnavailable, r), Err: ErrUnavailable}
		}
	}()

	L = lua.NewState(lua.Options{
		CallStackSize:   cfg.callStackSize,
		RegistrySize:    cfg.registrySize,
		RegistryMaxSize: cfg.registryMaxSize,
		SkipOpenLibs:    !cfg.openLibs,
	})

	st = &state{
		L:       L,
		cfg:     cfg,
		log:     cfg.logger,
		anchors: newAnchors(L),
		entry:   noAnchor,
		gc:      defaultGCPolicy(),
		ctx:     context.Background(),
	}
	if cfg.openLibs {
		st.installCollectGarbage()
	}
	if err := st.installHostFuncs(cfg.hostFuncs); err != nil {
		L.Close()
		return nil, err
	}
	return st, nil
}

// Close releases the engine and everything anchored in it. Closing an
// already closed sandbox does nothing. Close fails with ErrBusy while a
// call is in flight.
func (s *Sandbox) Close() error {
	if err := s.st.acquire(); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	defer s.st.release()

	s.cleanup.Stop()
	s.st.close()
	s.st.log.Debug("sandbox closed")
	return nil
}

// Closed reports whether Close has been called.
func (s *Sandbox) Closed() bool {
	if !s.st.busy.CompareAndSwap(false, true) {
		return false
	}
	defer s.st.busy.Store(false)
	return s.st.closed
}

// TransferOptions returns the transfer settings the sandbox was built
// with, for exchangers that move values themselves.
func (s *Sandbox) TransferOptions() []transfer.Option {
	return s.st.cfg.transferOpts()
}

func (s *Sandbox) String() string {
	return fmt.Sprintf("newstate: %p", s.st)
}

func (st *state) close() {
	if st.closed {
		return
	}
	st.closed = true
	st.entry = noAnchor
	st.L.Close()
}

func (st *state) acquire() error {
	if !st.busy.CompareAndSwap(false, true) {
		return argError(ErrBusy)
	}
	if st.closed {
		st.busy.Store(false)
		return argError(ErrClosed)
	}
	return nil
}

func (st *state) release() {
	st.busy.Store(false)
}

// protect runs fn, which must not call into Lua code, and converts a
// panic raised by the engine into an *Error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return fn()
}

package main

import (
	"errors"
	"sync"
	"time"

	"github.com/caffeineduck/newstate/executor"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errTooManySessions = errors.New("too many sessions")

type sessionManager struct {
	sessions map[string]*serverSession
	mu       sync.Mutex
	ttl      time.Duration
	limit    int
	log      *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

type serverSession struct {
	session  *executor.Session
	lastUsed time.Time
}

// newSessionManager keeps at most limit sessions (unlimited when 0) and
// closes those idle for longer than ttl (never when ttl is 0).
func newSessionManager(ttl time.Duration, limit int, log *zap.Logger) *sessionManager {
	return &sessionManager{
		sessions: make(map[string]*serverSession),
		ttl:      ttl,
		limit:    limit,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (sm *sessionManager) create(exec *executor.Executor, opts ...executor.SessionOption) (string, error) {
	session, err := exec.NewSession(opts...)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	sm.mu.Lock()
	if sm.limit > 0 && len(sm.sessions) >= sm.limit {
		sm.mu.Unlock()
		session.Close()
		return "", errTooManySessions
	}
	sm.sessions[id] = &serverSession{
		session:  session,
		lastUsed: time.Now(),
	}
	sm.mu.Unlock()

	sm.log.Info("session created", zap.String("session_id", id))
	return id, nil
}

func (sm *sessionManager) get(id string) (*executor.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ss, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	ss.lastUsed = time.Now()
	return ss.session, true
}

func (sm *sessionManager) close(id string) bool {
	sm.mu.Lock()
	ss, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	if ok {
		ss.session.Close()
		sm.log.Info("session closed", zap.String("session_id", id))
	}
	return ok
}

func (sm *sessionManager) len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// expire closes the sessions idle since before now-ttl and returns how
// many were closed. Sessions are closed outside the lock since Close
// waits for a running call.
func (sm *sessionManager) expire(now time.Time) int {
	if sm.ttl <= 0 {
		return 0
	}

	var idle []*executor.Session
	sm.mu.Lock()
	for id, ss := range sm.sessions {
		if now.Sub(ss.lastUsed) > sm.ttl {
			idle = append(idle, ss.session)
			delete(sm.sessions, id)
			sm.log.Info("session expired", zap.String("session_id", id))
		}
	}
	sm.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}

// run expires idle sessions until shutdown is called.
func (sm *sessionManager) run() {
	if sm.ttl <= 0 {
		return
	}
	interval := min(sm.ttl/2, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			sm.expire(now)
		case <-sm.stop:
			return
		}
	}
}

// shutdown stops expiry and closes every session.
func (sm *sessionManager) shutdown() {
	sm.stopOnce.Do(func() { close(sm.stop) })

	sm.mu.Lock()
	all := sm.sessions
	sm.sessions = make(map[string]*serverSession)
	sm.mu.Unlock()

	for _, ss := range all {
		ss.session.Close()
	}
}

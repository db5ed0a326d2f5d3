package wizard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/casewizard/model"
)

// ManagerConfig bounds the set of live sessions.
type ManagerConfig struct {
	IdleTTL     time.Duration
	MaxSessions int
}

// Manager owns every live session and expires idle ones.
type Manager struct {
	deps Deps
	cfg  ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*Session
	// opening counts slots reserved by Opens still loading their case.
	opening int
}

// NewManager returns an empty Manager.
func NewManager(deps Deps, cfg ManagerConfig) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	return &Manager{
		deps:     deps.withDefaults(),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Open opens a new session on caseID for the caller. A slot is reserved
// before the case is loaded, so concurrent Opens never exceed MaxSessions.
func (m *Manager) Open(ctx context.Context, rctx *model.RequestContext, caseID string) (*Session, error) {
	if !m.reserve() {
		m.Sweep(m.deps.Clock.Now())
		if !m.reserve() {
			return nil, model.NewRateLimitedError()
		}
	}

	s, err := Open(ctx, m.deps, rctx, caseID)

	m.mu.Lock()
	m.opening--
	if err == nil {
		m.sessions[s.ID()] = s
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	m.gauge(n)
	return s, nil
}

func (m *Manager) reserve() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxSessions > 0 && len(m.sessions)+m.opening >= m.cfg.MaxSessions {
		return false
	}
	m.opening++
	return true
}

// Get returns the session with id if it belongs to the caller. Sessions of
// other owners are reported as not found.
func (m *Manager) Get(id string, rctx *model.RequestContext) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.Owner() != rctx.Owner() {
		return nil, model.NewSessionNotFoundError(id)
	}
	return s, nil
}

// Close tears down the session with id.
func (m *Manager) Close(id string, rctx *model.RequestContext) error {
	s, err := m.Get(id, rctx)
	if err != nil {
		return err
	}
	m.remove(s)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes every session idle for longer than the TTL and returns how
// many were closed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.RLock()
	var idle []*Session
	for _, s := range m.sessions {
		if now.Sub(s.LastActive()) > m.cfg.IdleTTL {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range idle {
		m.deps.Logger.Info("expiring idle wizard session",
			zap.String("session_id", s.ID()),
			zap.String("case_id", s.CaseID()),
		)
		m.remove(s)
	}
	return len(idle)
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.deps.Clock.Now())
		}
	}
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	m.gauge(0)
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID())
	n := len(m.sessions)
	m.mu.Unlock()

	s.Close()
	m.gauge(n)
}

func (m *Manager) gauge(n int) {
	if m.deps.Observer != nil {
		m.deps.Observer.SetActiveSessions(n)
	}
}

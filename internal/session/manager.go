package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/identity"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
)

// Factory builds a session for an identity.
type Factory func(id identity.Identity) *Session

// Manager keeps one session per user for the HTTP server.
type Manager struct {
	factory Factory
	logger  *logger.Logger

	mu       sync.Mutex
	sessions map[string]*managed
}

type managed struct {
	session  *Session
	lastUsed time.Time
	// ready closes once the initial load finished.
	ready chan struct{}
}

// NewManager creates a manager.
func NewManager(factory Factory, log *logger.Logger) *Manager {
	return &Manager{
		factory:  factory,
		logger:   logger.OrNop(log).Named("sessions"),
		sessions: make(map[string]*managed),
	}
}

// Get returns the user's session, creating and loading it on first use.
// Concurrent callers for the same user wait until the initial load is
// done. A failed initial load leaves the session empty rather than
// failing the request.
func (m *Manager) Get(ctx context.Context, id identity.Identity) *Session {
	m.mu.Lock()
	if e, ok := m.sessions[id.UserID]; ok {
		e.lastUsed = e.session.now()
		m.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
		}
		return e.session
	}
	s := m.factory(id)
	e := &managed{session: s, lastUsed: s.now(), ready: make(chan struct{})}
	m.sessions[id.UserID] = e
	m.mu.Unlock()
	defer close(e.ready)

	// The load outlives a cancelled first request; other callers wait on it.
	if _, err := s.Load(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("initial load failed", zap.String("user_id", id.UserID), zap.Error(err))
	}
	return s
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than maxIdle that have no job in
// flight.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for user, e := range m.sessions {
		if e.session.now().Sub(e.lastUsed) < maxIdle || e.session.hasPending() {
			continue
		}
		delete(m.sessions, user)
		removed++
	}
	if removed > 0 {
		m.logger.Info("idle sessions dropped", zap.Int("count", removed))
	}
	return removed
}

// Close abandons the pending jobs of every session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.sessions {
		e.session.Close()
	}
}

func (s *Session) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

func (s *Session) now() time.Time {
	return s.clock.Now()
}

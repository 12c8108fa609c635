package service

import (
	"context"
	"sync"

	"fadeout/internal/errors"
	"fadeout/internal/metrics"
	"fadeout/internal/validation"

	"github.com/sirupsen/logrus"
)

type sessionKey struct {
	conversationID string
	viewerID       string
}

// pendingOpen is a session being started outside the manager lock.
type pendingOpen struct {
	done    chan struct{}
	session *Session
	err     error
}

// SessionManager keeps at most one open session per viewer and
// conversation. Commits of every session run under the manager's context.
type SessionManager struct {
	ctx    context.Context
	deps   SessionDeps
	logger *logrus.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	opening  map[sessionKey]*pendingOpen
	closed   bool
}

func NewSessionManager(ctx context.Context, deps SessionDeps) *SessionManager {
	return &SessionManager{
		ctx:      ctx,
		deps:     deps,
		logger:   deps.Logger,
		sessions: make(map[sessionKey]*Session),
		opening:  make(map[sessionKey]*pendingOpen),
	}
}

// Open returns the viewer's session for the conversation, starting it if
// needed. Opening an already open session is a no-op.
func (m *SessionManager) Open(ctx context.Context, conversationID, viewerID string) (*Session, error) {
	if err := validation.ValidateID("conversation_id", conversationID); err != nil {
		return nil, err
	}
	if err := validation.ValidateID("viewer_id", viewerID); err != nil {
		return nil, err
	}

	key := sessionKey{conversationID: conversationID, viewerID: viewerID}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New(errors.ErrCodeInternalError, "session manager is shut down")
	}
	if existing, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	if pending, ok := m.opening[key]; ok {
		m.mu.Unlock()
		select {
		case <-pending.done:
			return pending.session, pending.err
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "timed out waiting for session to open")
		}
	}
	pending := &pendingOpen{done: make(chan struct{})}
	m.opening[key] = pending
	m.mu.Unlock()

	// Start runs unlocked: its first fetch may retry against a slow store.
	session := NewSession(m.ctx, conversationID, viewerID, m.deps)
	err := session.Start(ctx)

	m.mu.Lock()
	delete(m.opening, key)
	if err == nil && m.closed {
		err = errors.New(errors.ErrCodeInternalError, "session manager is shut down")
	}
	if err == nil {
		m.sessions[key] = session
		m.updateGaugeLocked()
		pending.session = session
	}
	pending.err = err
	m.mu.Unlock()
	close(pending.done)

	if err != nil {
		_ = session.Close(ctx)
		return nil, err
	}
	return session, nil
}

func (m *SessionManager) Get(conversationID, viewerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionKey{conversationID: conversationID, viewerID: viewerID}]
	return session, ok
}

// Close tears down one session. Its timers and guard sets are discarded.
func (m *SessionManager) Close(ctx context.Context, conversationID, viewerID string) error {
	key := sessionKey{conversationID: conversationID, viewerID: viewerID}

	m.mu.Lock()
	session, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
		m.updateGaugeLocked()
	}
	m.mu.Unlock()

	if !ok {
		return errors.NewNotFoundError("session", conversationID)
	}
	return session.Close(ctx)
}

// Shutdown closes every session and refuses new ones.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for key, session := range m.sessions {
		sessions = append(sessions, session)
		delete(m.sessions, key)
	}
	m.updateGaugeLocked()
	m.mu.Unlock()

	var firstErr error
	for _, session := range sessions {
		if err := session.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.logger.WithField(LogFieldCount, len(sessions)).Info("Closed all viewing sessions")
	return firstErr
}

func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) updateGaugeLocked() {
	metrics.SetGauge("active_sessions", float64(len(m.sessions)), nil, "Open viewing sessions")
}

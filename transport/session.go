package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsneelabh/bloxgate/core"
)

// SessionState is the lifecycle of one RPC session.
type SessionState int32

const (
	SessionNew SessionState = iota
	SessionReady
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionReady:
		return "ready"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live client connection. Outbound frames pass through a
// bounded queue; when the client stops reading, senders block, which
// throttles that session without affecting others.
type Session struct {
	ID              string
	ProtocolVersion string

	state      atomic.Int32
	out        chan Frame
	lastActive atomic.Int64 // unix nanos

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newSession(queueSize int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     core.NewSessionID(),
		out:    make(chan Frame, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	s.lastActive.Store(time.Now().UnixNano())
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Ready moves a new session to the ready state after initialize.
func (s *Session) Ready() {
	s.state.CompareAndSwap(int32(SessionNew), int32(SessionReady))
}

// Touch records activity for the idle sweeper.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// IdleSince reports how long the session has been quiet.
func (s *Session) IdleSince() time.Duration {
	return time.Since(time.Unix(0, s.lastActive.Load()))
}

// Context is cancelled when the session closes. Calls derive from it so
// closing the session cancels in-flight upstream requests.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Send enqueues an outbound frame, blocking while the queue is full. It
// fails once the session is closed.
func (s *Session) Send(frame Frame) error {
	if s.State() == SessionClosed {
		return core.ErrSessionClosed
	}
	select {
	case s.out <- frame:
		return nil
	case <-s.ctx.Done():
		return core.ErrSessionClosed
	}
}

// Receive returns the outbound channel for the streaming writer.
func (s *Session) Receive() <-chan Frame {
	return s.out
}

// Close cancels the session. In-flight calls observe the cancellation
// through Context. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(SessionClosed))
		s.cancel()
	})
}

// SessionManager owns the session table and the idle sweeper.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	queueSize   int
	idleTimeout time.Duration
	logger      core.Logger

	stopSweep context.CancelFunc
	sweepDone chan struct{}
}

// NewSessionManager creates the table and starts the idle sweeper.
func NewSessionManager(queueSize int, idleTimeout time.Duration, logger core.Logger) *SessionManager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if queueSize < 1 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionManager{
		sessions:    make(map[string]*Session),
		queueSize:   queueSize,
		idleTimeout: idleTimeout,
		logger:      logger,
		stopSweep:   cancel,
		sweepDone:   make(chan struct{}),
	}
	go m.sweep(ctx)
	return m
}

// Create registers a new session.
func (m *SessionManager) Create(protocolVersion string) *Session {
	s := newSession(m.queueSize)
	s.ProtocolVersion = protocolVersion

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session_created", map[string]interface{}{
		"session_id":       s.ID,
		"protocol_version": protocolVersion,
	})
	return s
}

// Get looks up a session by id.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes and forgets a session.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Close()
		m.logger.Info("session_closed", map[string]interface{}{
			"session_id": id,
		})
	}
}

// Count returns the number of live sessions, for the active_sessions gauge.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll tears down every session, used at shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.stopSweep()
	<-m.sweepDone
}

// sweep evicts sessions idle past the timeout.
func (m *SessionManager) sweep(ctx context.Context) {
	defer close(m.sweepDone)
	if m.idleTimeout <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.idleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *SessionManager) evictIdle() {
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.IdleSince() > m.idleTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
		m.logger.Info("session_idle_evicted", map[string]interface{}{
			"session_id": s.ID,
			"idle":       s.IdleSince().String(),
		})
	}
}

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/pagasa/internal/notice"
)

// ErrActive is returned by [Manager.Start] while a session is running.
var ErrActive = errors.New("conversation: a session is already active")

// Snapshot is the serialisable view of the current or last session.
type Snapshot struct {
	Active    bool    `json:"active"`
	SessionID string  `json:"session_id,omitempty"`
	State     State   `json:"state"`
	Turns     []Turn  `json:"turns"`
	Pending   Pending `json:"pending"`
	Error     string  `json:"error,omitempty"`
}

// Manager owns at most one active [Session]. All exported methods are safe
// for concurrent use.
type Manager struct {
	cfg        Config
	newSession func(Config) *Session

	mu     sync.Mutex
	active *Session
	last   *Session
}

// NewManager returns a Manager that builds every session from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, newSession: NewSession}
}

// Start opens a new session. It fails with [ErrActive] while another
// session has not closed yet. Open failures are published as error notices.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.active != nil && m.active.State() != Closed {
		id := m.active.ID()
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (id=%s)", ErrActive, id)
	}
	s := m.newSession(m.cfg)
	m.active, m.last = s, s
	m.mu.Unlock()

	if err := s.Open(ctx); err != nil {
		m.mu.Lock()
		if m.active == s {
			m.active = nil
		}
		m.mu.Unlock()
		if m.cfg.Notices != nil && !errors.Is(err, ErrClosed) {
			m.cfg.Notices.Publish(notice.Error, "conversation", err.Error())
		}
		return nil, err
	}
	slog.Info("conversation started", "session_id", s.ID())
	return s, nil
}

// Stop closes the active session, if any.
func (m *Manager) Stop() error {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

// Toggle stops a running or connecting session, or starts a new one. It
// reports whether a session is active afterwards.
func (m *Manager) Toggle(ctx context.Context) (bool, error) {
	if m.Active() != nil {
		return false, m.Stop()
	}
	if _, err := m.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Active returns the session that has not closed yet, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.State() == Closed {
		return nil
	}
	return m.active
}

// Snapshot describes the active session, or the last one when none is
// active, so the turn log stays readable after a stop.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	s := m.last
	m.mu.Unlock()
	if s == nil {
		return Snapshot{State: Idle, Turns: []Turn{}}
	}
	st := s.State()
	snap := Snapshot{
		Active:    st != Closed && st != Idle,
		SessionID: s.ID(),
		State:     st,
		Turns:     s.TurnLog(),
		Pending:   s.Pending(),
	}
	if snap.Turns == nil {
		snap.Turns = []Turn{}
	}
	if err := s.Err(); err != nil {
		snap.Error = err.Error()
	}
	return snap
}

// Close stops the active session. It is used during shutdown.
func (m *Manager) Close() error { return m.Stop() }

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
	"github.com/roach88/txentity/internal/model"
)

// DefaultIdentityCacheSize bounds the per-session map of loaded wrappers.
const DefaultIdentityCacheSize = 1024

// Manager owns the backend and the set of live sessions.
//
// Thread-safety: all methods are safe for concurrent use. A session is bound
// to contexts, not goroutines; callers must not use one session from two
// goroutines at once.
type Manager struct {
	backend   backend.Backend
	model     *model.Model
	ids       entity.IDGenerator
	seq       Sequencer
	observer  Observer
	cacheSize int
	tracer    entity.Tracer

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithModel validates types and member names against m.
func WithModel(m *model.Model) Option {
	return func(mgr *Manager) {
		mgr.model = m
	}
}

// WithIDGenerator sets the generator for transient ids.
// Default: entity.UUIDv7Generator.
func WithIDGenerator(g entity.IDGenerator) Option {
	return func(mgr *Manager) {
		if g != nil {
			mgr.ids = g
		}
	}
}

// WithSequencer sets the source of session serial numbers.
func WithSequencer(s Sequencer) Option {
	return func(mgr *Manager) {
		if s != nil {
			mgr.seq = s
		}
	}
}

// WithObserver reports rejections and session events to o.
func WithObserver(o Observer) Option {
	return func(mgr *Manager) {
		mgr.observer = o
	}
}

// WithIdentityCacheSize bounds the number of loaded wrappers each session
// keeps for identity. Values below 1 keep the default.
func WithIdentityCacheSize(n int) Option {
	return func(mgr *Manager) {
		if n > 0 {
			mgr.cacheSize = n
		}
	}
}

// WithCreationTracking records the creation site of sessions and wrappers.
// Creation sites appear in wrapper debug strings and in the warning logged
// for sessions left open at Close.
func WithCreationTracking(enabled bool) Option {
	return func(mgr *Manager) {
		if enabled {
			mgr.tracer = entity.CallerTracer()
		} else {
			mgr.tracer = nil
		}
	}
}

// NewManager creates a manager over b. The manager does not close b.
func NewManager(b backend.Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:   b,
		ids:       entity.UUIDv7Generator{},
		seq:       NewClock(),
		cacheSize: DefaultIdentityCacheSize,
		sessions:  make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Model returns the configured model, or nil.
func (m *Manager) Model() *model.Model { return m.model }

// Backend returns the backend the manager writes to.
func (m *Manager) Backend() backend.Backend { return m.backend }

// Begin returns ctx bound to a new open session. If ctx is already bound to
// an open session of this manager, that session is returned unchanged.
func (m *Manager) Begin(ctx context.Context) (context.Context, *Session, error) {
	return m.begin(ctx, false)
}

// BeginReadOnly is Begin for a session that rejects every mutation.
func (m *Manager) BeginReadOnly(ctx context.Context) (context.Context, *Session, error) {
	return m.begin(ctx, true)
}

func (m *Manager) begin(ctx context.Context, readonly bool) (context.Context, *Session, error) {
	if err := m.assertOpen("begin session"); err != nil {
		return ctx, nil, err
	}
	if current := m.ThreadSession(ctx); current != nil {
		slog.Debug("returning session already bound to context", "session", current.id)
		return ctx, current, nil
	}

	s := newSession(m, fmt.Sprintf("s%d", m.seq.Next()), readonly)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ctx, nil, fmt.Errorf("begin session: %w", ErrManagerClosed)
	}
	m.sessions[s] = struct{}{}
	m.mu.Unlock()

	slog.Debug("session started", "session", s.id, "readonly", readonly)
	return entity.WithSession(ctx, s), s, nil
}

// ThreadSession returns the open session of this manager bound to ctx, or nil.
func (m *Manager) ThreadSession(ctx context.Context) *Session {
	s, ok := entity.CurrentSession(ctx).(*Session)
	if !ok || s == nil || s.manager != m || s.State() != entity.SessionOpen {
		return nil
	}
	return s
}

// Suspend suspends the session bound to ctx and returns ctx without a
// session. It returns a nil session if ctx carries none.
func (m *Manager) Suspend(ctx context.Context) (context.Context, *Session, error) {
	if err := m.assertOpen("suspend session"); err != nil {
		return ctx, nil, err
	}

	s := m.ThreadSession(ctx)
	if s == nil {
		return ctx, nil, nil
	}
	if err := s.transition(entity.SessionOpen, entity.SessionSuspended); err != nil {
		return ctx, nil, fmt.Errorf("suspend session %s: %w", s.id, err)
	}
	return entity.WithSession(ctx, nil), s, nil
}

// Resume reopens a suspended session and binds it to ctx. Resuming the
// session ctx is already bound to is a no-op.
func (m *Manager) Resume(ctx context.Context, s *Session) (context.Context, error) {
	if s == nil {
		return ctx, nil
	}
	if err := m.assertOpen("resume session"); err != nil {
		return ctx, err
	}
	if s.manager != m {
		return ctx, fmt.Errorf("resume session %s: %w", s.id, ErrForeignEntity)
	}

	current := m.ThreadSession(ctx)
	if current == s {
		return ctx, nil
	}
	if current != nil {
		return ctx, fmt.Errorf("resume session %s: %w", s.id, ErrAnotherSession)
	}

	if err := s.transition(entity.SessionSuspended, entity.SessionOpen); err != nil {
		return ctx, fmt.Errorf("resume session %s: %w", s.id, err)
	}
	return entity.WithSession(ctx, s), nil
}

// OpenSessions returns the number of sessions that are neither committed nor
// aborted.
func (m *Manager) OpenSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close marks the manager closed. Sessions still open are left alone and
// reported in the log.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	remaining := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		remaining = append(remaining, s)
	}
	m.mu.Unlock()

	slog.Info("session manager closed")
	if len(remaining) > 0 {
		slog.Warn("sessions still open at close", "count", len(remaining))
		for _, s := range remaining {
			if s.creation != nil {
				slog.Debug("session not closed", "session", s.id, "created_at", s.creation.String())
			}
		}
	}
	return nil
}

func (m *Manager) assertOpen(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%s: %w", op, ErrManagerClosed)
	}
	return nil
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
}

func (m *Manager) entityOptions() []entity.Option {
	opts := []entity.Option{entity.WithIDGenerator(m.ids)}
	if m.tracer != nil {
		opts = append(opts, entity.WithTracer(m.tracer))
	}
	return opts
}

package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/config"
	"github.com/roach88/txentity/internal/entity"
	"github.com/roach88/txentity/internal/model"
	"github.com/roach88/txentity/internal/session"
	"github.com/roach88/txentity/internal/testutil"
)

// Harness is the scenario execution engine. It holds the named contexts,
// sessions, records and wrappers of one run.
type Harness struct {
	backend  backend.Backend
	manager  *session.Manager
	clock    *testutil.DeterministicClock
	ids      *testutil.FixedIDGenerator
	logger   *slog.Logger
	contexts map[string]context.Context
	sessions map[string]*session.Session
	records  map[string]entity.ID
	entities map[string]*entity.Entity
}

// Option configures a run.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	observer session.Observer
}

// WithLogger sets the logger used for step tracing. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver attaches an observer to the session manager of the run.
func WithObserver(obs session.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh backend in a temporary directory.
// Deterministic helpers ensure reproducible traces.
//
// Execution flow:
// 1. Open the backend and the session manager
// 2. Execute steps, recording one trace event each and checking expects
// 3. Evaluate assertions against the trace and final states
//
// Run returns an error only for scenarios that cannot run, such as a step
// naming an unknown session. Failed expectations are reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	dir, err := os.MkdirTemp("", "txentity-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	cfg := config.Config{
		Backend:             scenario.Backend,
		Path:                filepath.Join(dir, "scenario.db"),
		TrackEntityCreation: scenario.TrackCreation,
		IdentityCacheSize:   session.DefaultIdentityCacheSize,
		Model:               scenario.Model,
	}
	if cfg.Backend == "" {
		cfg.Backend = config.BackendSQLite
	}

	b, err := cfg.OpenBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to open backend: %w", err)
	}
	defer b.Close()

	managerOpts, err := cfg.ManagerOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	h := &Harness{
		backend:  b,
		clock:    testutil.NewDeterministicClock(),
		ids:      testutil.NewFixedIDGenerator("t"),
		logger:   o.logger,
		contexts: map[string]context.Context{},
		sessions: map[string]*session.Session{},
		records:  map[string]entity.ID{},
		entities: map[string]*entity.Entity{},
	}
	managerOpts = append(managerOpts,
		session.WithIDGenerator(h.ids),
		session.WithSequencer(h.clock),
	)
	if o.observer != nil {
		managerOpts = append(managerOpts, session.WithObserver(o.observer))
	}
	h.manager = session.NewManager(b, managerOpts...)
	defer h.manager.Close()

	result := NewResult()
	for i := range scenario.Steps {
		st := &scenario.Steps[i]
		ev, err := h.executeStep(st)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, st.Action, err)
		}
		ev = result.AddEvent(ev)
		h.logger.Debug("step executed", "event", ev.String())
		checkExpect(i, st, ev, result)
	}

	h.collectStates(result)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

// checkExpect compares a step's event with its expect clause.
func checkExpect(index int, st *Step, ev TraceEvent, result *Result) {
	want := OutcomeOK
	if st.Expect != nil && st.Expect.Error != "" {
		want = st.Expect.Error
	}
	if ev.Outcome != want {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected outcome %s, got %s", index, st.Action, want, ev.Outcome))
	}
	if st.Expect == nil {
		return
	}
	if st.Expect.Value != nil && *st.Expect.Value != ev.Value {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected value %q, got %q", index, st.Action, *st.Expect.Value, ev.Value))
	}
	if st.Expect.State != "" && st.Expect.State != ev.State {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected state %s, got %s", index, st.Action, st.Expect.State, ev.State))
	}
}

// collectStates records the final state of every named wrapper and session.
func (h *Harness) collectStates(result *Result) {
	for name, e := range h.entities {
		result.Entities[name] = e.State().String()
	}
	for name, s := range h.sessions {
		result.Sessions[name] = s.State().String()
	}
}

func (h *Harness) ctx(name string) context.Context {
	if name == "" {
		name = DefaultContext
	}
	if c, ok := h.contexts[name]; ok {
		return c
	}
	return context.Background()
}

func (h *Harness) setCtx(name string, c context.Context) {
	if name == "" {
		name = DefaultContext
	}
	h.contexts[name] = c
}

func (h *Harness) session(name string) (*session.Session, error) {
	s, ok := h.sessions[name]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", name)
	}
	return s, nil
}

func (h *Harness) entity(name string) (*entity.Entity, error) {
	e, ok := h.entities[name]
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", name)
	}
	return e, nil
}

func (h *Harness) record(name string) (entity.ID, error) {
	id, ok := h.records[name]
	if !ok {
		return entity.ID{}, fmt.Errorf("unknown record %q", name)
	}
	return id, nil
}

// sessionName returns the name a session was registered under.
func (h *Harness) sessionName(s *session.Session) string {
	names := make([]string, 0, len(h.sessions))
	for name, candidate := range h.sessions {
		if candidate == s {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return s.ID()
	}
	sort.Strings(names)
	return names[0]
}

// ErrorCode renders err as the code used in traces and expect clauses:
// the entity error kind, the model error code, a session or backend code,
// or "ERROR" for anything else.
func ErrorCode(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if kind := entity.KindOf(err); kind != "" {
		return string(kind)
	}
	var me *model.Error
	if errors.As(err, &me) {
		return me.Code
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "ERROR"
}

var errorCodes = []struct {
	err  error
	code string
}{
	{session.ErrNotOpen, "NOT_OPEN"},
	{session.ErrOtherContext, "OTHER_CONTEXT"},
	{session.ErrAnotherSession, "ANOTHER_SESSION"},
	{session.ErrReadOnly, "READ_ONLY"},
	{session.ErrForeignEntity, "FOREIGN_ENTITY"},
	{session.ErrInvalidTransition, "INVALID_TRANSITION"},
	{session.ErrManagerClosed, "MANAGER_CLOSED"},
	{backend.ErrNotFound, "NOT_FOUND"},
}

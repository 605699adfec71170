package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/boltstore"
	"github.com/roach88/txentity/internal/entity"
	"github.com/roach88/txentity/internal/store"
	"github.com/roach88/txentity/internal/testutil"
)

// backends lists the backends every end-to-end test runs against.
var backends = []struct {
	name string
	open func(t *testing.T) backend.Backend
}{
	{"sqlite", func(t *testing.T) backend.Backend {
		s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}},
	{"bolt", func(t *testing.T) backend.Backend {
		s, err := boltstore.Open(filepath.Join(t.TempDir(), "test.bolt"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

// forEachBackend runs fn once per backend with a fresh manager.
func forEachBackend(t *testing.T, fn func(t *testing.T, m *Manager), opts ...Option) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, newTestManager(b.open(t), opts...))
		})
	}
}

func newTestManager(b backend.Backend, opts ...Option) *Manager {
	base := []Option{
		WithIDGenerator(testutil.NewFixedIDGenerator("t")),
		WithSequencer(testutil.NewDeterministicClock()),
	}
	return NewManager(b, append(base, opts...)...)
}

func sqliteManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	return newTestManager(backends[0].open(t), opts...)
}

func begin(t *testing.T, m *Manager) (context.Context, *Session) {
	t.Helper()
	ctx, s, err := m.Begin(context.Background())
	require.NoError(t, err)
	return ctx, s
}

// recorder is an Observer that keeps every event.
type recorder struct {
	mu          sync.Mutex
	rejections  []string
	transitions []string
	flushes     []error
}

func (r *recorder) Rejected(op string, class entity.Class, state entity.State, err *entity.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections = append(r.rejections, op+"/"+class.String()+"/"+state.String()+"/"+string(err.Kind))
}

func (r *recorder) SessionTransition(session string, from, to entity.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, session+":"+from.String()+"->"+to.String())
}

func (r *recorder) Flushed(_ string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes = append(r.flushes, err)
}

var errInjected = errors.New("injected commit failure")

// flakyBackend fails Commit while fail is set.
type flakyBackend struct {
	backend.Backend
	fail bool
}

func (b *flakyBackend) Begin(ctx context.Context) (backend.Tx, error) {
	tx, err := b.Backend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTx{Tx: tx, fail: b.fail}, nil
}

type flakyTx struct {
	backend.Tx
	fail bool
}

func (tx *flakyTx) Commit() error {
	if tx.fail {
		if err := tx.Tx.Rollback(); err != nil {
			return err
		}
		return errInjected
	}
	return tx.Tx.Commit()
}

var errStaleRead = errors.New("transient read error")

// staleReadBackend hands out records whose Version fails once any of its
// transactions has committed.
type staleReadBackend struct {
	backend.Backend
	committed bool
}

func (b *staleReadBackend) Load(ctx context.Context, id entity.ID) (entity.Record, error) {
	rec, err := b.Backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &staleReadRecord{Record: rec, backend: b}, nil
}

func (b *staleReadBackend) Begin(ctx context.Context) (backend.Tx, error) {
	tx, err := b.Backend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &staleReadTx{Tx: tx, backend: b}, nil
}

type staleReadRecord struct {
	entity.Record
	backend *staleReadBackend
}

func (r *staleReadRecord) Version(ctx context.Context) (int, error) {
	if r.backend.committed {
		return 0, errStaleRead
	}
	return r.Record.Version(ctx)
}

type staleReadTx struct {
	backend.Tx
	backend *staleReadBackend
}

func unwrapRecord(rec entity.Record) entity.Record {
	if r, ok := rec.(*staleReadRecord); ok {
		return r.Record
	}
	return rec
}

func (tx *staleReadTx) SetProperty(ctx context.Context, rec entity.Record, name, value string) error {
	return tx.Tx.SetProperty(ctx, unwrapRecord(rec), name, value)
}

func (tx *staleReadTx) Delete(ctx context.Context, rec entity.Record) error {
	return tx.Tx.Delete(ctx, unwrapRecord(rec))
}

func (tx *staleReadTx) Commit() error {
	if err := tx.Tx.Commit(); err != nil {
		return err
	}
	tx.backend.committed = true
	return nil
}

// Package backendtest is a conformance suite shared by the backend
// implementations.
package backendtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
)

// Opener returns a fresh, empty backend. The suite closes it.
type Opener func(t *testing.T) backend.Backend

// Run runs the conformance suite against backends produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b backend.Backend)
	}{
		{"CreateCommitLoad", testCreateCommitLoad},
		{"MutationsBumpVersion", testMutationsBumpVersion},
		{"HistoryNewestFirst", testHistoryNewestFirst},
		{"Navigation", testNavigation},
		{"RollbackDiscards", testRollbackDiscards},
		{"Delete", testDelete},
		{"FinishedTx", testFinishedTx},
		{"Identity", testIdentity},
		{"LoadMissing", testLoadMissing},
		{"HistoricalHandleIsReadOnly", testHistoricalHandleIsReadOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := open(t)
			t.Cleanup(func() { b.Close() })
			tt.fn(t, b)
		})
	}

	t.Run("ForeignRecord", func(t *testing.T) {
		a := open(t)
		t.Cleanup(func() { a.Close() })
		b := open(t)
		t.Cleanup(func() { b.Close() })
		testForeignRecord(t, a, b)
	})
}

// create commits a new record of typ and returns its live handle.
func create(t *testing.T, b backend.Backend, typ string) entity.Record {
	t.Helper()
	ctx := context.Background()

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	rec, err := tx.Create(ctx, typ)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return rec
}

// mutate runs fn in a committed transaction.
func mutate(t *testing.T, b backend.Backend, fn func(tx backend.Tx)) {
	t.Helper()
	tx, err := b.Begin(context.Background())
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

func version(t *testing.T, rec entity.Record) int {
	t.Helper()
	v, err := rec.Version(context.Background())
	require.NoError(t, err)
	return v
}

func testCreateCommitLoad(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	rec, err := tx.Create(ctx, "Issue")
	require.NoError(t, err)

	// Readable through the open transaction.
	assert.Equal(t, 0, version(t, rec))
	assert.Equal(t, "Issue", rec.Type())
	assert.False(t, rec.ID().Transient)
	require.NoError(t, tx.Commit())

	loaded, err := b.Load(ctx, rec.ID())
	require.NoError(t, err)
	assert.True(t, loaded.Equal(rec))
	assert.Equal(t, rec.Hash(), loaded.Hash())
	assert.Equal(t, 0, version(t, loaded))
}

func testMutationsBumpVersion(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	parent := create(t, b, "Project")
	rec := create(t, b, "Issue")

	mutate(t, b, func(tx backend.Tx) {
		require.NoError(t, tx.SetProperty(ctx, rec, "summary", "crash on save"))
		require.NoError(t, tx.SetProperty(ctx, rec, "priority", "high"))
		require.NoError(t, tx.SetBlob(ctx, rec, "attachment", []byte{0x1, 0x2}))
		require.NoError(t, tx.AddLink(ctx, rec, "project", parent))
	})

	assert.Equal(t, 4, version(t, rec))

	props, err := rec.PropertyNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"priority", "summary"}, props)

	blobs, err := rec.BlobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"attachment"}, blobs)

	links, err := rec.LinkNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"project"}, links)

	values, ok := rec.(backend.ValueReader)
	require.True(t, ok)

	summary, found, err := values.Property(ctx, "summary")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "crash on save", summary)

	_, found, err = values.Property(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	data, found, err := values.Blob(ctx, "attachment")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte{0x1, 0x2}, data)

	targets, err := values.Links(ctx, "project")
	require.NoError(t, err)
	assert.Equal(t, []entity.ID{parent.ID()}, targets)
}

func testHistoryNewestFirst(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	rec := create(t, b, "Issue")
	mutate(t, b, func(tx backend.Tx) {
		require.NoError(t, tx.SetProperty(ctx, rec, "summary", "v1"))
	})
	mutate(t, b, func(tx backend.Tx) {
		require.NoError(t, tx.SetProperty(ctx, rec, "priority", "low"))
	})

	history, err := rec.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, version(t, history[0]))
	assert.Equal(t, 0, version(t, history[1]))

	props, err := history[0].PropertyNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"summary"}, props)

	props, err = history[1].PropertyNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, props)

	values := history[0].(backend.ValueReader)
	summary, _, err := values.Property(ctx, "summary")
	require.NoError(t, err)
	assert.Equal(t, "v1", summary)
}

func testNavigation(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	rec := create(t, b, "Issue")
	mutate(t, b, func(tx backend.Tx) {
		require.NoError(t, tx.SetProperty(ctx, rec, "summary", "a"))
	})

	next, err := rec.NextVersion(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	prev, err := rec.PreviousVersion(ctx)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, 0, version(t, prev))

	upToDate, err := prev.IsUpToDate(ctx)
	require.NoError(t, err)
	assert.False(t, upToDate)

	first, err := prev.PreviousVersion(ctx)
	require.NoError(t, err)
	assert.Nil(t, first)

	next, err = prev.NextVersion(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(rec))

	latest, err := prev.UpToDateVersion(ctx)
	require.NoError(t, err)
	assert.True(t, latest.Equal(rec))
	assert.False(t, prev.Equal(rec))
	assert.Negative(t, prev.Compare(rec))
}

func testRollbackDiscards(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	rec, err := tx.Create(ctx, "Issue")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	_, err = b.Load(ctx, rec.ID())
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func testDelete(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	rec := create(t, b, "Issue")

	mutate(t, b, func(tx backend.Tx) {
		require.NoError(t, tx.Delete(ctx, rec))
	})

	_, err := b.Load(ctx, rec.ID())
	assert.ErrorIs(t, err, backend.ErrNotFound)

	latest, err := rec.UpToDateVersion(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	assert.Equal(t, 1, version(t, rec))
	history, err := rec.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	assert.ErrorIs(t, tx.Delete(ctx, rec), backend.ErrNotFound)
	assert.ErrorIs(t, tx.SetProperty(ctx, rec, "summary", "x"), backend.ErrNotFound)
}

func testFinishedTx(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, err = tx.Create(ctx, "Issue")
	assert.ErrorIs(t, err, backend.ErrTxDone)
	assert.ErrorIs(t, tx.Commit(), backend.ErrTxDone)
	assert.NoError(t, tx.Rollback())
}

func testIdentity(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	first := create(t, b, "Issue")
	second := create(t, b, "Issue")

	again, err := b.Load(ctx, first.ID())
	require.NoError(t, err)

	assert.True(t, first.Equal(again))
	assert.Equal(t, first.Hash(), again.Hash())
	assert.Equal(t, first.IDString(), again.IDString())
	assert.False(t, first.Equal(second))
	assert.NotEqual(t, first.Hash(), second.Hash())
	assert.Negative(t, first.Compare(second))
	assert.Positive(t, second.Compare(first))
	assert.Zero(t, first.Compare(again))
}

func testLoadMissing(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	rec := create(t, b, "Issue")

	_, err := b.Load(ctx, entity.ID{Type: "Issue", Local: "9999"})
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = b.Load(ctx, entity.ID{Type: "Project", Local: rec.ID().Local})
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = b.Load(ctx, entity.ID{Local: "not-a-number"})
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = b.Load(ctx, entity.ID{Local: rec.ID().Local, Transient: true})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func testHistoricalHandleIsReadOnly(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	rec := create(t, b, "Issue")
	mutate(t, b, func(tx backend.Tx) {
		require.NoError(t, tx.SetProperty(ctx, rec, "summary", "a"))
	})
	prev, err := rec.PreviousVersion(ctx)
	require.NoError(t, err)

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	assert.Error(t, tx.SetProperty(ctx, prev, "summary", "b"))
}

func testForeignRecord(t *testing.T, a, b backend.Backend) {
	ctx := context.Background()
	foreign := create(t, b, "Issue")

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	assert.ErrorIs(t, tx.SetProperty(ctx, foreign, "summary", "x"), backend.ErrForeignRecord)
	assert.ErrorIs(t, tx.Delete(ctx, foreign), backend.ErrForeignRecord)
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/backend/backendtest"
	"github.com/roach88/txentity/internal/entity"
)

func TestStore_BackendContract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Backend {
		return createTestStore(t)
	})
}

func TestRecord_IDIsTypeAndRowID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	rec, err := tx.Create(ctx, "Issue")
	require.NoError(t, err)
	assert.Equal(t, entity.ID{Type: "Issue", Local: "1"}, rec.ID())
	assert.Equal(t, "Issue-1", rec.IDString())
	assert.Equal(t, "Issue-1", rec.(*Record).String())
}

func TestRecord_PinnedString(t *testing.T) {
	r := &Record{typ: "Issue", id: 3, pinned: 2}
	assert.Equal(t, "Issue-3@2", r.String())
}

func TestRecord_SnapshotsEveryVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	rec, err := tx.Create(ctx, "Issue")
	require.NoError(t, err)
	require.NoError(t, tx.SetProperty(ctx, rec, "summary", "a"))
	require.NoError(t, tx.SetProperty(ctx, rec, "summary", "b"))
	require.NoError(t, tx.Commit())

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM record_versions WHERE record_id = 1`).Scan(&count))
	assert.Equal(t, 3, count)

	prev, err := rec.PreviousVersion(ctx)
	require.NoError(t, err)
	summary, _, err := prev.(*Record).Property(ctx, "summary")
	require.NoError(t, err)
	assert.Equal(t, "a", summary)
}

func TestListRecords(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	infos, err := s.ListRecords(ctx)
	require.NoError(t, err)
	assert.NotNil(t, infos)
	assert.Empty(t, infos)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	issue, err := tx.Create(ctx, "Issue")
	require.NoError(t, err)
	_, err = tx.Create(ctx, "Project")
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, issue))
	require.NoError(t, tx.Commit())

	infos, err = s.ListRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, []backend.RecordInfo{
		{ID: entity.ID{Type: "Issue", Local: "1"}, Version: 1, Deleted: true},
		{ID: entity.ID{Type: "Project", Local: "2"}, Version: 0},
	}, infos)
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	snap := backend.NewSnapshot()
	snap.Properties["b"] = "2"
	snap.Properties["a"] = "<1>"

	data, err := marshalSnapshot(snap)
	require.NoError(t, err)
	assert.Equal(t, `{"properties":{"a":"<1>","b":"2"},"blobs":{},"links":{}}`, data)

	back, err := unmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap, back)
}

func TestUnmarshalSnapshot_Empty(t *testing.T) {
	for _, in := range []string{"", "{}", `{"properties":null}`} {
		snap, err := unmarshalSnapshot(in)
		require.NoError(t, err)
		assert.NotNil(t, snap.Properties, in)
		assert.NotNil(t, snap.Blobs, in)
		assert.NotNil(t, snap.Links, in)
	}

	_, err := unmarshalSnapshot("{not json")
	assert.Error(t, err)
}

package metrics

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txentity/internal/entity"
	"github.com/roach88/txentity/internal/session"
	"github.com/roach88/txentity/internal/store"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	rejection := &entity.Error{Kind: entity.KindIllegalAccess, Op: "record"}
	c.Rejected("record", entity.ClassOpenElsewhere, entity.Durable, rejection)
	c.Rejected("record", entity.ClassOpenElsewhere, entity.Durable, rejection)
	c.SessionTransition("s1", entity.SessionOpen, entity.SessionCommitted)
	c.Flushed("s1", time.Millisecond, nil)
	c.Flushed("s1", time.Millisecond, errors.New("disk full"))

	assert.Equal(t, 2.0, testutil.ToFloat64(
		c.rejections.WithLabelValues("record", "other-thread-open", "Durable", "ILLEGAL_ACCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("committed")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.flushes))
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)

	_, err = NewCollector(reg)
	assert.Error(t, err)
}

func TestCollectorObservesSessions(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	m := session.NewManager(s, session.WithObserver(c))
	ctx, sess, err := m.Begin(context.Background())
	require.NoError(t, err)

	issue, err := sess.New(ctx, "Issue")
	require.NoError(t, err)
	_, err = issue.Version(ctx)
	require.Error(t, err)
	require.NoError(t, sess.Commit(ctx))

	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.rejections.WithLabelValues("version", "same-thread-open", "Created", "ILLEGAL_ACCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("committed")))

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, reg))
	assert.Contains(t, buf.String(), "txentity_session_transitions_total{to=\"committed\"} 1")
	assert.Contains(t, buf.String(), "txentity_flush_seconds_count{outcome=\"ok\"} 1")
}

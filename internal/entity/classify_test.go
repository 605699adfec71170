package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_EveryReachableSessionState(t *testing.T) {
	for _, want := range Classes() {
		t.Run(want.String(), func(t *testing.T) {
			s := newFakeSession()
			e := newCreated(s, "Issue")

			got, err := Classify(contextFor(s, want), e)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestClassify_ContextWithoutSessionIsElsewhere(t *testing.T) {
	s := newFakeSession()
	e := newCreated(s, "Issue")

	got, err := Classify(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, ClassOpenElsewhere, got)
}

func TestClassify_UnknownSessionState(t *testing.T) {
	s := newFakeSession()
	e := newCreated(s, "Issue")
	s.set(SessionState(42))

	_, err := Classify(s.ctx(), e)
	require.Error(t, err)
	assert.True(t, IsIllegalInternalState(err))
	assert.Contains(t, err.Error(), "SessionState(42)")
}

func TestClassify_NoOwningSession(t *testing.T) {
	e := NewDetached("Issue")

	_, err := Classify(context.Background(), e)
	assert.True(t, IsIllegalInternalState(err))
}

func TestClassify_UnknownStateRejectsOperations(t *testing.T) {
	s := newFakeSession()
	e := newCreated(s, "Issue")
	s.set(SessionState(7))

	_, err := e.ID(s.ctx())
	assert.True(t, IsIllegalInternalState(err))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "same-thread-open", ClassOpen.String())
	assert.Equal(t, "other-thread-open", ClassOpenElsewhere.String())
	assert.Equal(t, "closed-aborted", ClassAborted.String())
	assert.Equal(t, "detached", ClassDetached.String())
	assert.Equal(t, "Class(9)", Class(9).String())
}

package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{"Issue-12", ID{Type: "Issue", Local: "12"}},
		{"Work-Item-3", ID{Type: "Work-Item", Local: "3"}},
		{"~0192-ab", ID{Local: "0192-ab", Transient: true}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if !tt.want.Transient {
				assert.Equal(t, tt.in, got.String())
			}
		})
	}
}

func TestParseID_Invalid(t *testing.T) {
	for _, in := range []string{"", "Issue", "Issue-", "-12", "~"} {
		_, err := ParseID(in)
		assert.Error(t, err, in)
	}
}

func TestCurrentSession(t *testing.T) {
	s := newFakeSession()
	assert.Same(t, s, CurrentSession(s.ctx()))
	assert.Nil(t, CurrentSession(context.Background()))
}

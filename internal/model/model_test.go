package model

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTracker(t *testing.T) *Model {
	t.Helper()
	m, err := Load(filepath.Join("testdata", "tracker.cue"))
	require.NoError(t, err)
	return m
}

func TestLoadTracker(t *testing.T) {
	m := loadTracker(t)

	assert.Equal(t, []string{"Comment", "Issue", "Project"}, m.TypeNames())

	issue, ok := m.Type("Issue")
	require.True(t, ok)
	assert.Equal(t, []string{"priority", "state", "summary"}, issue.Properties)
	assert.Equal(t, []string{"attachment"}, issue.Blobs)
	assert.Equal(t, []string{"project", "related"}, issue.Links)

	project, ok := m.Type("Project")
	require.True(t, ok)
	assert.Empty(t, project.Blobs)
	assert.NotNil(t, project.Blobs)
}

func TestTypesOrderedByName(t *testing.T) {
	m := loadTracker(t)

	var names []string
	for _, typ := range m.Types() {
		names = append(names, typ.Name)
	}
	assert.Equal(t, m.TypeNames(), names)
}

func TestCheckType(t *testing.T) {
	m := loadTracker(t)

	name, err := m.CheckType("Issue")
	require.NoError(t, err)
	assert.Equal(t, "Issue", name)

	_, err = m.CheckType("Milestone")
	var merr *Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, ErrCodeUnknownType, merr.Code)
}

func TestCheckMember(t *testing.T) {
	m := loadTracker(t)

	tests := []struct {
		name    string
		typ     string
		kind    Kind
		member  string
		wantErr string
	}{
		{"declared property", "Issue", KindProperty, "summary", ""},
		{"declared blob", "Issue", KindBlob, "attachment", ""},
		{"declared link", "Project", KindLink, "issues", ""},
		{"property used as blob", "Issue", KindBlob, "summary", ErrCodeUnknownName},
		{"unknown link", "Comment", KindLink, "project", ErrCodeUnknownName},
		{"unknown type", "Milestone", KindProperty, "name", ErrCodeUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.CheckMember(tt.typ, tt.kind, tt.member)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var merr *Error
			require.True(t, errors.As(err, &merr))
			assert.Equal(t, tt.wantErr, merr.Code)
		})
	}
}

func TestNamesAreNFCNormalized(t *testing.T) {
	const (
		composed   = "Caf\u00e9"
		decomposed = "Cafe\u0301"
	)
	src := []byte("types: \"" + decomposed + "\": {properties: [\"me\u0301nu\"]}\n")
	m, err := Parse("nfc.cue", src)
	require.NoError(t, err)

	assert.Equal(t, []string{composed}, m.TypeNames())

	for _, spelling := range []string{composed, decomposed} {
		name, err := m.CheckType(spelling)
		require.NoError(t, err)
		assert.Equal(t, composed, name)
	}

	assert.NoError(t, m.CheckMember(composed, KindProperty, "m\u00e9nu"))
}

func TestEquivalentSpellingsDeclareOneType(t *testing.T) {
	src := []byte("types: {\"Caf\u00e9\": {properties: [\"menu\"]}, \"Cafe\u0301\": {blobs: [\"photo\"]}}\n")
	m, err := Parse("nfc.cue", src)
	require.NoError(t, err)

	assert.Equal(t, []string{"Caf\u00e9"}, m.TypeNames())
	typ, ok := m.Type("Cafe\u0301")
	require.True(t, ok)
	assert.Equal(t, []string{"menu"}, typ.Properties)
	assert.Equal(t, []string{"photo"}, typ.Blobs)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"missing types", `other: 1`, ErrCodeInvalid},
		{"syntax error", `types: {`, ErrCodeCUE},
		{"names not a list", `types: Issue: properties: "summary"`, ErrCodeCUE},
		{"non-string name", `types: Issue: properties: [1]`, ErrCodeCUE},
		{"empty name", `types: Issue: links: [""]`, ErrCodeInvalid},
		{"duplicate name", `types: Issue: blobs: ["a", "a"]`, ErrCodeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.cue", []byte(tt.src))
			var merr *Error
			require.True(t, errors.As(err, &merr), "got %v", err)
			assert.Equal(t, tt.code, merr.Code)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Code: ErrCodeUnknownType, Message: `type "X" is not declared`}
	assert.Equal(t, `E_UNKNOWN_TYPE: type "X" is not declared`, err.Error())
}

// Package model loads entity type metadata declared in CUE.
//
// A model file declares every entity type with the names of its properties,
// blobs and links:
//
//	types: Issue: {
//		properties: ["summary", "priority"]
//		blobs: ["attachment"]
//		links: ["project"]
//	}
//
// Type and member names are NFC-normalized on load and on lookup, so
// canonically equivalent spellings resolve to the same declaration.
package model

import (
	"fmt"
	"os"
	"slices"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"golang.org/x/text/unicode/norm"
)

// Error codes.
const (
	ErrCodeCUE         = "E_CUE"
	ErrCodeInvalid     = "E_INVALID_MODEL"
	ErrCodeUnknownType = "E_UNKNOWN_TYPE"
	ErrCodeUnknownName = "E_UNKNOWN_NAME"
)

// Error reports an invalid model or a lookup the model does not allow.
type Error struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Kind names a member kind of a type.
type Kind string

const (
	KindProperty Kind = "property"
	KindBlob     Kind = "blob"
	KindLink     Kind = "link"
)

// Type is the declaration of one entity type. Name lists are sorted.
type Type struct {
	Name       string   `json:"name"`
	Properties []string `json:"properties"`
	Blobs      []string `json:"blobs"`
	Links      []string `json:"links"`
}

// Names returns the declared names of the given kind.
func (t *Type) Names(kind Kind) []string {
	switch kind {
	case KindProperty:
		return t.Properties
	case KindBlob:
		return t.Blobs
	case KindLink:
		return t.Links
	default:
		return nil
	}
}

// Model is an immutable set of type declarations.
//
// Thread-safety: a Model is read-only after Parse and safe for concurrent use.
type Model struct {
	types map[string]*Type
}

// Normalize returns the NFC form of a type or member name.
func Normalize(name string) string {
	return norm.NFC.String(name)
}

// Load reads and parses a CUE model file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return Parse(path, data)
}

// Parse compiles CUE source into a Model. filename is used in error positions.
func Parse(filename string, src []byte) (*Model, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	typesVal := v.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return nil, &Error{Code: ErrCodeInvalid, Message: "types is required", Pos: v.Pos()}
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	m := &Model{types: make(map[string]*Type)}
	for iter.Next() {
		// CUE already unifies labels that are equal after NFC normalization.
		name := Normalize(iter.Label())

		t := &Type{Name: name}
		for _, member := range []struct {
			kind Kind
			dst  *[]string
		}{
			{KindProperty, &t.Properties},
			{KindBlob, &t.Blobs},
			{KindLink, &t.Links},
		} {
			names, err := parseNames(iter.Value(), member.kind)
			if err != nil {
				return nil, err
			}
			*member.dst = names
		}
		m.types[name] = t
	}

	return m, nil
}

// parseNames reads the optional list of member names for kind.
func parseNames(v cue.Value, kind Kind) ([]string, error) {
	field := string(kind) + "s"
	if kind == KindProperty {
		field = "properties"
	}

	names := []string{}
	listVal := v.LookupPath(cue.ParsePath(field))
	if !listVal.Exists() {
		return names, nil
	}

	list, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for list.Next() {
		s, err := list.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		s = Normalize(s)
		if s == "" {
			return nil, &Error{Code: ErrCodeInvalid, Message: field + " entries must be non-empty", Pos: list.Value().Pos()}
		}
		if slices.Contains(names, s) {
			return nil, &Error{Code: ErrCodeInvalid, Message: fmt.Sprintf("%s %q listed twice", kind, s), Pos: list.Value().Pos()}
		}
		names = append(names, s)
	}
	sort.Strings(names)
	return names, nil
}

// Type returns the declaration of the named type.
func (m *Model) Type(name string) (*Type, bool) {
	t, ok := m.types[Normalize(name)]
	return t, ok
}

// TypeNames returns the declared type names in sorted order.
func (m *Model) TypeNames() []string {
	names := make([]string, 0, len(m.types))
	for name := range m.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Types returns every declaration ordered by name.
func (m *Model) Types() []*Type {
	types := make([]*Type, 0, len(m.types))
	for _, name := range m.TypeNames() {
		types = append(types, m.types[name])
	}
	return types
}

// CheckType returns the normalized type name, or an error if the model does
// not declare it.
func (m *Model) CheckType(name string) (string, error) {
	t, ok := m.Type(name)
	if !ok {
		return "", &Error{Code: ErrCodeUnknownType, Message: fmt.Sprintf("type %q is not declared", name)}
	}
	return t.Name, nil
}

// CheckMember returns an error unless the type declares name as a member of
// the given kind.
func (m *Model) CheckMember(typ string, kind Kind, name string) error {
	t, ok := m.Type(typ)
	if !ok {
		return &Error{Code: ErrCodeUnknownType, Message: fmt.Sprintf("type %q is not declared", typ)}
	}
	if _, found := slices.BinarySearch(t.Names(kind), Normalize(name)); !found {
		return &Error{Code: ErrCodeUnknownName, Message: fmt.Sprintf("%s %q is not declared on %s", kind, name, t.Name)}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{Code: ErrCodeCUE, Message: err.Error()}
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{Code: ErrCodeCUE, Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Code: ErrCodeCUE, Message: first.Error()}
}

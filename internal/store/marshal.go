package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/txentity/internal/backend"
)

// marshalSnapshot converts a snapshot to JSON TEXT for storage.
// encoding/json sorts map keys, so equal snapshots encode identically.
func marshalSnapshot(snap backend.Snapshot) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalSnapshot parses JSON TEXT to a snapshot. Missing maps come back
// empty, never nil.
func unmarshalSnapshot(data string) (backend.Snapshot, error) {
	snap := backend.NewSnapshot()
	if data == "" || data == "{}" {
		return snap, nil
	}
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return backend.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Properties == nil {
		snap.Properties = map[string]string{}
	}
	if snap.Blobs == nil {
		snap.Blobs = map[string][]byte{}
	}
	if snap.Links == nil {
		snap.Links = map[string][]string{}
	}
	return snap, nil
}

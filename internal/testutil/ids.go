package testutil

import (
	"strconv"
	"sync"
)

// FixedIDGenerator generates predictable transient ids: prefix1, prefix2, ...
//
// This enables deterministic test execution and golden trace comparison.
// The same scenario with a fresh FixedIDGenerator produces identical ids.
//
// Thread-safety: FixedIDGenerator is safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDGenerator creates a generator whose ids start with prefix.
// If prefix is empty, ids look like "t1", "t2".
func NewFixedIDGenerator(prefix string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "t"
	}
	return &FixedIDGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements entity.IDGenerator interface.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.prefix + strconv.Itoa(g.n)
}

// Reset restarts the sequence at 1.
func (g *FixedIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}

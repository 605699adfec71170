package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedIDGenerator_Sequence(t *testing.T) {
	gen := NewFixedIDGenerator("id-")

	assert.Equal(t, "id-1", gen.Generate())
	assert.Equal(t, "id-2", gen.Generate())
	assert.Equal(t, "id-3", gen.Generate())
}

func TestFixedIDGenerator_EmptyPrefixDefault(t *testing.T) {
	gen := NewFixedIDGenerator("")
	assert.Equal(t, "t1", gen.Generate())
}

func TestFixedIDGenerator_Reset(t *testing.T) {
	gen := NewFixedIDGenerator("x")
	gen.Generate()
	gen.Generate()
	gen.Reset()
	assert.Equal(t, "x1", gen.Generate())
}

func TestFixedIDGenerator_ThreadSafe(t *testing.T) {
	gen := NewFixedIDGenerator("t")

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000, "every id is unique")
}

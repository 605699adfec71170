package entity

import (
	"fmt"
	"runtime"
	"strings"
)

// Frame is a captured call site.
type Frame struct {
	Function string
	File     string
	Line     int
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s:%d", f.Function, f.Line)
}

// Tracer captures the call site that created a wrapper. Tracers are opt-in
// and only used for leak diagnosis.
type Tracer func() *Frame

// DefaultInternalPrefixes are the function-name prefixes skipped by
// CallerTracer when no prefixes are given.
var DefaultInternalPrefixes = []string{
	"runtime.",
	"github.com/roach88/txentity/internal/entity.",
	"github.com/roach88/txentity/internal/session.",
}

// CallerTracer returns a Tracer that reports the first stack frame whose
// function does not start with one of the internal prefixes.
func CallerTracer(internal ...string) Tracer {
	if len(internal) == 0 {
		internal = DefaultInternalPrefixes
	}

	return func() *Frame {
		pcs := make([]uintptr, 64)
		n := runtime.Callers(2, pcs)
		frames := runtime.CallersFrames(pcs[:n])
		for {
			f, more := frames.Next()
			if !hasAnyPrefix(f.Function, internal) {
				return &Frame{Function: f.Function, File: f.File, Line: f.Line}
			}
			if !more {
				return nil
			}
		}
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

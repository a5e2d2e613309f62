// Package fixlog provides the structured logging the heap uses to report
// object-table growth (cmd/fixscript enables it with --verbose). The
// teacher CLI logs user-facing messages with the plain "log" package;
// this wraps go.uber.org/zap for the internals that benefit from
// structured fields (cycle counts, byte sizes, durations), matching how
// wippyai-wasm-runtime logs its own runtime lifecycle.
package fixlog

import "go.uber.org/zap"

// Logger is the minimal surface heap/interp code depends on, so tests and
// embedders can swap in a no-op or a *zap.Logger interchangeably.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

type noop struct{}

func (noop) Debug(string, ...zap.Field) {}
func (noop) Info(string, ...zap.Field)  {}
func (noop) Warn(string, ...zap.Field)  {}

// Noop discards everything; it's the default for a Heap that isn't given
// an explicit logger.
var Noop Logger = noop{}

// NewDevelopment builds a human-readable console logger, wired up the way
// a host embedder would during development (cmd/fixscript uses this under
// --verbose).
func NewDevelopment() (Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return l, nil
}

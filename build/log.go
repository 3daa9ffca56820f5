package build

import (
	"io"
	"sync"

	"github.com/btcsuite/btclog"
)

// LogWriter is a stub io.Writer implementation that supports swapping the
// underlying backing writer at runtime. All subsystem loggers are created
// from a backend that wraps one of these, so the rotator can be brought up
// after flag parsing without forcing every package to depend on it directly.
type LogWriter struct {
	sync.Mutex

	// RotatorPipe is the write end of the pipe that feeds the log
	// rotator. It is nil until initLogRotator has run, during which time
	// writes are simply dropped.
	RotatorPipe *io.PipeWriter
}

// Write writes the provided byte slice to the rotator pipe if one has been
// set, else it drops the bytes on the floor.
func (w *LogWriter) Write(b []byte) (int, error) {
	w.Lock()
	pipe := w.RotatorPipe
	w.Unlock()

	if pipe == nil {
		return len(b), nil
	}

	return pipe.Write(b)
}

// NewSubLogger creates a new subsystem logger with the given tag, using the
// passed backend constructor (typically a *btclog.Backend's Logger method
// value). This indirection lets callers pass the method value directly,
// matching the construction style used throughout this repo's subsystems.
func NewSubLogger(tag string, genLogger func(string) btclog.Logger) btclog.Logger {
	if genLogger == nil {
		return btclog.Disabled
	}

	return genLogger(tag)
}

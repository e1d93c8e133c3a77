package core

import (
	"log"
	"os"
)

// Logger receives non-fatal warnings raised while reading a disc, such as a
// hash-tree mismatch under OpenOptions.ValidateHashes or an inconsistent
// disc-header flag. The CLI and other collaborators supply their own
// implementation; Disc falls back to a standard library logger.
type Logger interface {
	Warnf(format string, args ...any)
}

type stdLogger struct {
	l *log.Logger
}

func (s stdLogger) Warnf(format string, args ...any) {
	s.l.Printf("warning: "+format, args...)
}

// DefaultLogger returns the Logger used when OpenOptions.Logger is nil.
func DefaultLogger() Logger {
	return stdLogger{l: log.New(os.Stderr, "nod: ", 0)}
}

// DiscardLogger drops every warning; used by tests.
type DiscardLogger struct{}

func (DiscardLogger) Warnf(string, ...any) {}

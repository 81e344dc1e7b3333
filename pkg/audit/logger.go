package audit

import (
	"context"
	"time"
)

// Logger is the append contract. There is deliberately no update or delete
// operation; the compliance read path is a separate query surface outside
// this core.
type Logger interface {
	// Append writes one audit record. Implementations set Timestamp if the
	// caller left it zero.
	Append(ctx context.Context, record *Record) error

	// Close flushes and releases any underlying resources.
	Close() error
}

// NopLogger discards records. Used in tests and as a fallback when no
// backend is configured.
type NopLogger struct{}

func (NopLogger) Append(ctx context.Context, record *Record) error { return nil }
func (NopLogger) Close() error                                     { return nil }

// MultiLogger fans an append out to several backends. The first error is
// returned after all backends have been attempted, so a failing sink does
// not starve the others.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that appends to all given backends.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Append(ctx context.Context, record *Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Append(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiLogger) Close() error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

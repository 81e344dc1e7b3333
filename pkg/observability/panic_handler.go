package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it at Error level with the
// panic value and stack trace. Call it in a defer:
//
//	defer observability.RecoverPanic(logger, "expiry sweep")
//
// The panic is not re-raised. Intended for background goroutines where a
// crash would take the process down with it.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

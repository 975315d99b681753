package platform

// Logger defines the interface for platform logging.
// The platform uses structured logging with key-value pairs so that
// module and framework output stays consistent and parseable.
//
// All core operations (module registration, lifecycle transitions,
// health evaluation, realtime delivery) are logged through this
// interface, so the embedding application controls where the output
// goes and how it is formatted.
//
// The variadic arguments are alternating key-value pairs:
//
//	logger.Info("module initialized", "module", "irrigation", "took", elapsed)
//
// This shape is directly compatible with log/slog and with most
// structured logging libraries.
type Logger interface {
	// Info logs normal platform events such as module startup and
	// service registration.
	Info(msg string, args ...any)

	// Error logs failures that should be noted but do not abort the
	// application, such as a module entering the degraded state.
	Error(msg string, args ...any)

	// Warn logs unusual conditions that do not prevent operation,
	// such as a dropped realtime event or a throttled client.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostics, typically disabled in production.
	Debug(msg string, args ...any)
}

// moduleLogger injects a fixed module identifier into every record so
// log lines can be attributed without each module tagging its own output.
type moduleLogger struct {
	inner    Logger
	moduleID string
}

// NewModuleLogger wraps a logger so that every record carries a
// "module" key identifying the owning module.
func NewModuleLogger(inner Logger, moduleID string) Logger {
	if inner == nil {
		return nil
	}
	return &moduleLogger{inner: inner, moduleID: moduleID}
}

func (l *moduleLogger) withModule(args []any) []any {
	injected := make([]any, 0, len(args)+2)
	injected = append(injected, "module", l.moduleID)
	return append(injected, args...)
}

func (l *moduleLogger) Info(msg string, args ...any) {
	l.inner.Info(msg, l.withModule(args)...)
}

func (l *moduleLogger) Error(msg string, args ...any) {
	l.inner.Error(msg, l.withModule(args)...)
}

func (l *moduleLogger) Warn(msg string, args ...any) {
	l.inner.Warn(msg, l.withModule(args)...)
}

func (l *moduleLogger) Debug(msg string, args ...any) {
	l.inner.Debug(msg, l.withModule(args)...)
}

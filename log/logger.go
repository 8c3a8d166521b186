package log

import "context"

// Fields are structured key/value pairs attached to a log entry.
type Fields map[string]any

// Logger is the logging interface handed to the binaries' wiring code.
// Library packages log through the global zerolog logger instead.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Fields)
	Info(ctx context.Context, msg string, fields ...Fields)
	Warn(ctx context.Context, msg string, fields ...Fields)
	Error(ctx context.Context, msg string, err error, fields ...Fields)
	Fatal(ctx context.Context, msg string, err error, fields ...Fields) // exits the process
	With(fields Fields) Logger
}

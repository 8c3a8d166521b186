package log

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pilab-dev/oauthdirac/tracing"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// zerologAdapter wraps a zerolog.Logger to implement Logger.
type zerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapterTo creates a Logger writing to w.
func NewZerologAdapterTo(w io.Writer, level zerolog.Level, pretty bool) Logger {
	return &zerologAdapter{logger: newZerolog(w, level, pretty)}
}

// Setup configures the global zerolog logger used by the library packages
// and returns an adapter over the same output. Events logged with a context
// carry the trace and span IDs of the active span.
func Setup(level zerolog.Level, pretty bool) Logger {
	return SetupTo(os.Stderr, level, pretty)
}

// SetupTo is Setup writing to w.
func SetupTo(w io.Writer, level zerolog.Level, pretty bool) Logger {
	logger := newZerolog(w, level, pretty)
	zerolog.SetGlobalLevel(level)
	zlog.Logger = logger.Hook(traceHook{})
	return &zerologAdapter{logger: logger}
}

func newZerolog(w io.Writer, level zerolog.Level, pretty bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// traceHook adds the span of the event context, if any.
type traceHook struct{}

func (traceHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	addTraceInfo(e.GetCtx(), e)
}

func addTraceInfo(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	if ctx == nil {
		return event
	}
	if traceID, spanID := tracing.SpanIDs(ctx); traceID != "" {
		event = event.Str("trace_id", traceID).Str("span_id", spanID)
	}
	return event
}

func (z *zerologAdapter) log(ctx context.Context, event *zerolog.Event, msg string, fields []Fields) {
	event = addTraceInfo(ctx, event)
	for _, f := range fields {
		event = event.Fields(map[string]any(f))
	}
	event.Msg(msg)
}

func (z *zerologAdapter) Debug(ctx context.Context, msg string, fields ...Fields) {
	z.log(ctx, z.logger.Debug(), msg, fields)
}

func (z *zerologAdapter) Info(ctx context.Context, msg string, fields ...Fields) {
	z.log(ctx, z.logger.Info(), msg, fields)
}

func (z *zerologAdapter) Warn(ctx context.Context, msg string, fields ...Fields) {
	z.log(ctx, z.logger.Warn(), msg, fields)
}

func (z *zerologAdapter) Error(ctx context.Context, msg string, err error, fields ...Fields) {
	z.log(ctx, z.logger.Error().Err(err), msg, fields)
}

func (z *zerologAdapter) Fatal(ctx context.Context, msg string, err error, fields ...Fields) {
	z.log(ctx, z.logger.Fatal().Err(err), msg, fields)
}

// With returns a logger with fields added. Trace information is added per
// call so it always reflects the current span.
func (z *zerologAdapter) With(fields Fields) Logger {
	return &zerologAdapter{logger: z.logger.With().Fields(map[string]any(fields)).Logger()}
}

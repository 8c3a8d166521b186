// Package audit writes the security relevant session events to a dedicated
// JSON log.
package audit

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/tracing"
	"github.com/rs/zerolog"
)

// Actions
const (
	ActionLogin  = "session.login"
	ActionKill   = "session.kill"
	ActionLogout = "session.logout"
	ActionProxy  = "proxy.issue"
)

// Event represents an audit log event.
type Event struct {
	Action   string
	Caller   *domain.Caller
	Session  string
	Provider string
	User     string
	Target   string // DN of an issued proxy
	Status   domain.SessionStatus
	Err      error
}

// Logger records audit events. The zero value is not usable; use New.
type Logger struct {
	out zerolog.Logger
	now func() time.Time
}

// New creates an audit logger writing one JSON object per event to w.
func New(w io.Writer) *Logger {
	return &Logger{
		out: zerolog.New(w).With().Str("log", "audit").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Stdout is the default audit destination.
func Stdout() *Logger { return New(os.Stdout) }

// Discard drops all events.
func Discard() *Logger { return New(io.Discard) }

// Record writes e. The outcome is derived from e.Err.
func (l *Logger) Record(ctx context.Context, e Event) {
	ev := l.out.Log().
		Time("timestamp", l.now()).
		Str("action", e.Action).
		Bool("success", e.Err == nil)

	if e.Caller != nil {
		if e.Caller.DN != "" {
			ev = ev.Str("caller_dn", e.Caller.DN)
		}
		if e.Caller.UserName != "" {
			ev = ev.Str("caller", e.Caller.UserName)
		}
		if e.Caller.TrustedHost {
			ev = ev.Bool("trusted_host", true)
		}
	}
	if e.Session != "" {
		ev = ev.Str("session", e.Session)
	}
	if e.Provider != "" {
		ev = ev.Str("provider", e.Provider)
	}
	if e.User != "" {
		ev = ev.Str("user", e.User)
	}
	if e.Target != "" {
		ev = ev.Str("target", e.Target)
	}
	if e.Status != domain.StatusUnknown {
		ev = ev.Str("status", e.Status.String())
	}
	if e.Err != nil {
		ev = ev.Str("error", e.Err.Error())
	}
	if traceID, _ := tracing.SpanIDs(ctx); traceID != "" {
		ev = ev.Str("trace_id", traceID)
	}
	ev.Send()
}

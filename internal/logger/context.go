package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds the per-operation fields attached to CIFS log lines.
type LogContext struct {
	TraceID   string // OpenTelemetry trace ID
	SpanID    string // OpenTelemetry span ID
	Server    string // host:port of the CIFS server
	Operation string // client operation (bind, unbind, reconnect)
	Command   string // SMB command name (SESSION_SETUP_ANDX, ECHO, ...)
	Share     string // UNC path of the tree
	Username  string
	UID       uint16 // SMB session UID
	TID       uint16 // SMB tree ID
	StartTime time.Time
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for the given server address.
func NewLogContext(server string) *LogContext {
	return &LogContext{
		Server:    server,
		StartTime: time.Now(),
	}
}

// Clone returns a copy of lc. A nil receiver yields nil.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithCommand returns a copy with the command set.
func (lc *LogContext) WithCommand(command string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Command = command
	}
	return clone
}

// WithOperation returns a copy with the client operation set.
func (lc *LogContext) WithOperation(op string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Operation = op
	}
	return clone
}

// WithShare returns a copy with the share and tree ID set.
func (lc *LogContext) WithShare(share string, tid uint16) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Share = share
		clone.TID = tid
	}
	return clone
}

// WithSession returns a copy with the authenticated user and session UID set.
func (lc *LogContext) WithSession(username string, uid uint16) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Username = username
		clone.UID = uid
	}
	return clone
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// args flattens the non-empty fields into slog key/value pairs.
func (lc *LogContext) args() []any {
	out := make([]any, 0, 16)
	for _, f := range []struct {
		key string
		val string
	}{
		{KeyTraceID, lc.TraceID},
		{KeySpanID, lc.SpanID},
		{KeyServer, lc.Server},
		{KeyOperation, lc.Operation},
		{KeyCommand, lc.Command},
		{KeyShare, lc.Share},
	} {
		if f.val != "" {
			out = append(out, f.key, f.val)
		}
	}
	if lc.UID != 0 {
		out = append(out, KeyUID, lc.UID)
	}
	if lc.TID != 0 {
		out = append(out, KeyTID, lc.TID)
	}
	if lc.Username != "" {
		out = append(out, KeyUsername, lc.Username)
	}
	return out
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}

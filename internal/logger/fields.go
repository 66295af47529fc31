package logger

import (
	"fmt"
	"log/slog"
	"time"
)

// Standard field keys used across the CIFS client. Keep these stable: log
// pipelines filter on them.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Endpoint and tree
	KeyServer  = "server"  // host:port of the CIFS server
	KeyShare   = "share"   // \\server\share
	KeyDialect = "dialect" // negotiated dialect string

	// Protocol
	KeyCommand = "command" // SMB command name
	KeyStatus  = "status"  // NT status code
	KeyMID     = "mid"     // multiplex ID
	KeyUID     = "uid"     // session UID
	KeyTID     = "tid"     // tree ID
	KeyFlags2  = "flags2"

	// Authentication
	KeyUsername = "username"
	KeyDomain   = "domain"
	KeyAuth     = "auth"    // lanman, ntlm, ntlmv2, ntlmssp
	KeySigning  = "signing" // whether signing is active

	// Connection lifecycle
	KeyConnID    = "conn_id"
	KeyConnState = "conn_state"
	KeyAttempt   = "attempt"
	KeyBackoff   = "backoff"
	KeyPending   = "pending" // in-flight request count
	KeyRefCount  = "refcount"

	// General
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeySize       = "size"
	KeyOperation  = "operation"
)

func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

func Server(addr string) slog.Attr { return slog.String(KeyServer, addr) }
func Share(unc string) slog.Attr { return slog.String(KeyShare, unc) }
func Dialect(d string) slog.Attr { return slog.String(KeyDialect, d) }
func Command(name string) slog.Attr { return slog.String(KeyCommand, name) }

// Status formats an NT status code as 0x%08X.
func Status(code uint32) slog.Attr {
	return slog.String(KeyStatus, fmt.Sprintf("0x%08X", code))
}

func MID(mid uint16) slog.Attr { return slog.Int(KeyMID, int(mid)) }
func UID(uid uint16) slog.Attr { return slog.Int(KeyUID, int(uid)) }
func TID(tid uint16) slog.Attr { return slog.Int(KeyTID, int(tid)) }

// Flags2 formats the Flags2 header field in hex.
func Flags2(f uint16) slog.Attr {
	return slog.String(KeyFlags2, fmt.Sprintf("0x%04X", f))
}

func Username(name string) slog.Attr { return slog.String(KeyUsername, name) }
func Domain(name string) slog.Attr { return slog.String(KeyDomain, name) }
func Auth(method string) slog.Attr { return slog.String(KeyAuth, method) }
func Signing(active bool) slog.Attr { return slog.Bool(KeySigning, active) }

func ConnState(state string) slog.Attr { return slog.String(KeyConnState, state) }
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }
func Backoff(d time.Duration) slog.Attr { return slog.Duration(KeyBackoff, d) }
func Pending(n int) slog.Attr { return slog.Int(KeyPending, n) }
func RefCount(n int) slog.Attr { return slog.Int(KeyRefCount, n) }

func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns an error attribute. A nil error is logged as an empty string.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

func Size(n int) slog.Attr { return slog.Int(KeySize, n) }
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

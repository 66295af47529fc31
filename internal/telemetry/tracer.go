package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for CIFS client spans.
const (
	// ========================================================================
	// Endpoint attributes
	// ========================================================================
	AttrServerAddr = "server.address"
	AttrServerPort = "server.port"
	AttrConnID     = "cifs.connection_id"

	// ========================================================================
	// SMB protocol attributes
	// ========================================================================
	AttrSMBCommand   = "smb.command"
	AttrSMBMessageID = "smb.message_id"
	AttrSMBStatus    = "smb.status"
	AttrSMBUID       = "smb.uid"
	AttrSMBTreeID    = "smb.tree_id"
	AttrSMBShare     = "smb.share"
	AttrSMBDialect   = "smb.dialect"
	AttrSMBSigning   = "smb.signing"

	// ========================================================================
	// User/Auth attributes
	// ========================================================================
	AttrUsername = "user.name"
	AttrDomain   = "user.domain"
	AttrAuth     = "auth.method"

	// ========================================================================
	// Connection lifecycle
	// ========================================================================
	AttrAttempt  = "cifs.reconnect.attempt"
	AttrRefCount = "cifs.refcount"
)

// Span names.
const (
	SpanBind         = "cifs.bind"
	SpanUnbind       = "cifs.unbind"
	SpanNegotiate    = "cifs.negotiate"
	SpanSessionSetup = "cifs.session_setup"
	SpanTreeConnect  = "cifs.tree_connect"
	SpanRequest      = "cifs.request"
	SpanReconnect    = "cifs.reconnect"
)

// ServerAddr returns an attribute for the server host:port
func ServerAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrServerAddr, addr)
}

// ConnID returns an attribute for the connection identifier
func ConnID(id string) attribute.KeyValue {
	return attribute.String(AttrConnID, id)
}

// SMBCommand returns an attribute for the SMB command name
func SMBCommand(name string) attribute.KeyValue {
	return attribute.String(AttrSMBCommand, name)
}

// SMBMessageID returns an attribute for the multiplex id
func SMBMessageID(mid uint16) attribute.KeyValue {
	return attribute.Int(AttrSMBMessageID, int(mid))
}

// SMBStatus returns an attribute for an NT status code, formatted in hex
func SMBStatus(status uint32) attribute.KeyValue {
	return attribute.String(AttrSMBStatus, fmt.Sprintf("0x%08X", status))
}

func SMBUID(uid uint16) attribute.KeyValue {
	return attribute.Int(AttrSMBUID, int(uid))
}

func SMBTreeID(tid uint16) attribute.KeyValue {
	return attribute.Int(AttrSMBTreeID, int(tid))
}

func SMBShare(share string) attribute.KeyValue {
	return attribute.String(AttrSMBShare, share)
}

func SMBDialect(dialect string) attribute.KeyValue {
	return attribute.String(AttrSMBDialect, dialect)
}

func SMBSigning(active bool) attribute.KeyValue {
	return attribute.Bool(AttrSMBSigning, active)
}

// Username returns an attribute for the authenticating user
func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

// Domain returns an attribute for the user's domain
func Domain(name string) attribute.KeyValue {
	return attribute.String(AttrDomain, name)
}

// AuthMethod returns an attribute for the authentication method
func AuthMethod(method string) attribute.KeyValue {
	return attribute.String(AttrAuth, method)
}

// Attempt returns an attribute for a reconnect attempt number
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// RefCount returns an attribute for a registry reference count
func RefCount(n int) attribute.KeyValue {
	return attribute.Int(AttrRefCount, n)
}

// StartRequestSpan starts a client span for one SMB request/response exchange.
func StartRequestSpan(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, SMBCommand(command))
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanRequest,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(allAttrs...),
	)
}

// StartClientSpan starts an internal span for a session or registry
// operation such as SpanBind or SpanSessionSetup.
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

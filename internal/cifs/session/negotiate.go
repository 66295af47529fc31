package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/smbenc"
	"github.com/marmos91/cifscore/internal/cifs/transport"
	"github.com/marmos91/cifscore/internal/cifs/types"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/marmos91/cifscore/internal/telemetry"
)

// negotiateWordCount is the parameter size of an NT LM 0.12 response.
const negotiateWordCount = 17

// challengeSize is the length of the legacy authentication challenge.
const challengeSize = 8

// NegotiateResult is the server's answer to NEGOTIATE.
type NegotiateResult struct {
	Dialect       string
	DialectIndex  uint16
	SecurityMode  types.SecurityMode
	MaxMpxCount   uint16
	MaxNumberVcs  uint16
	MaxBufferSize uint32
	MaxRawSize    uint32
	SessionKey    uint32
	Capabilities  types.Capabilities
	SystemTime    time.Time
	TimeZone      int16

	// Challenge, DomainName and ServerName are set without extended
	// security.
	Challenge  []byte
	DomainName string
	ServerName string

	// ServerGUID and SecurityBlob are set with extended security.
	ServerGUID   uuid.UUID
	SecurityBlob []byte

	// Signing reports whether message signing will be active once a
	// session key is known.
	Signing bool
}

// ExtendedSecurity reports whether the server negotiated extended security.
func (n *NegotiateResult) ExtendedSecurity() bool {
	return n.Capabilities.Has(types.CapExtendedSecurity)
}

// Unicode reports whether strings are exchanged as UTF-16LE.
func (n *NegotiateResult) Unicode() bool {
	return n.Capabilities.Has(types.CapUnicode)
}

// Flags2 returns the Flags2 value for requests on this connection.
func (n *NegotiateResult) Flags2() types.Flags2 {
	f := types.Flags2LongNames | types.Flags2IsLongName | types.Flags2NTStatus
	if n.ExtendedSecurity() {
		f |= types.Flags2ExtendedSecurity
	}
	if n.Unicode() {
		f |= types.Flags2Unicode
	}
	if n.Signing {
		f |= types.Flags2SecuritySignature
	}
	return f
}

// Negotiate proposes the NT LM 0.12 dialect on conn and parses the server's
// reply. On success the Conn's multiplex limit is set and the Conn is marked
// good. Every failure wraps types.ErrNegotiationFailed, except transport
// failures which are returned as is.
func Negotiate(ctx context.Context, conn *transport.Conn, cfg Config) (*NegotiateResult, error) {
	cfg.applyDefaults()

	ctx, span := telemetry.StartClientSpan(ctx, telemetry.SpanNegotiate, telemetry.ServerAddr(conn.Addr()))
	defer span.End()

	w := smbenc.NewWriter(16)
	w.WriteUint8(0x02) // dialect buffer format
	w.WriteString(types.DialectNTLM012, false)

	flags2 := types.Flags2LongNames | types.Flags2IsLongName | types.Flags2NTStatus |
		types.Flags2Unicode | types.Flags2ExtendedSecurity
	if cfg.Signing.Enabled {
		flags2 |= types.Flags2SecuritySignature
	}
	req := &transport.Request{
		Command: types.CommandNegotiate,
		Flags:   types.FlagsCaseless,
		Flags2:  flags2,
		PID:     cfg.PID,
		Data:    w.Bytes(),
	}

	resp, err := conn.RoundTrip(ctx, req, cfg.Timeout)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	res, err := parseNegotiate(resp)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	res.Signing, err = cfg.Signing.Negotiate(res.SecurityMode)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	conn.SetMaxMpx(int(max(res.MaxMpxCount, 1)))
	conn.MarkGood()

	span.SetAttributes(
		telemetry.SMBDialect(res.Dialect),
		telemetry.SMBSigning(res.Signing),
	)
	logger.DebugCtx(ctx, "negotiated",
		logger.KeyServer, conn.Addr(),
		logger.KeyDialect, res.Dialect,
		logger.KeySigning, res.Signing,
		"max_mpx", res.MaxMpxCount,
		"extended_security", res.ExtendedSecurity())
	return res, nil
}

func parseNegotiate(resp *header.Message) (*NegotiateResult, error) {
	if resp.Status.IsError() {
		return nil, fmt.Errorf("%w: %w", types.ErrNegotiationFailed, types.NewStatusError(resp.Command, resp.Status))
	}

	p := smbenc.NewReader(resp.Params)
	res := &NegotiateResult{DialectIndex: p.ReadUint16()}
	if p.Err() != nil {
		return nil, fmt.Errorf("%w: empty negotiate response", types.ErrNegotiationFailed)
	}
	if res.DialectIndex == types.DialectNone {
		return nil, fmt.Errorf("%w: server accepted no dialect", types.ErrNegotiationFailed)
	}
	if res.DialectIndex != 0 {
		return nil, fmt.Errorf("%w: server chose unknown dialect index %d", types.ErrNegotiationFailed, res.DialectIndex)
	}
	if resp.WordCount() != negotiateWordCount {
		return nil, fmt.Errorf("%w: word count %d, want %d", types.ErrNegotiationFailed, resp.WordCount(), negotiateWordCount)
	}

	res.Dialect = types.DialectNTLM012
	res.SecurityMode = types.SecurityMode(p.ReadUint8())
	res.MaxMpxCount = p.ReadUint16()
	res.MaxNumberVcs = p.ReadUint16()
	res.MaxBufferSize = p.ReadUint32()
	res.MaxRawSize = p.ReadUint32()
	res.SessionKey = p.ReadUint32()
	res.Capabilities = types.Capabilities(p.ReadUint32())
	res.SystemTime = fileTimeToTime(p.ReadUint64())
	res.TimeZone = int16(p.ReadUint16())
	challengeLen := int(p.ReadUint8())
	if err := p.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrNegotiationFailed, err)
	}

	// Negotiate strings are not padded relative to the header.
	d := smbenc.NewReader(resp.Data)
	if res.ExtendedSecurity() {
		guid := d.ReadSlice(16)
		if d.Err() != nil {
			return nil, fmt.Errorf("%w: extended security response without server GUID", types.ErrNegotiationFailed)
		}
		res.ServerGUID, _ = uuid.FromBytes(guid)
		res.SecurityBlob = append([]byte(nil), d.Rest()...)
		return res, nil
	}

	if res.SecurityMode&types.SecurityModeEncryptPasswords != 0 && challengeLen < challengeSize {
		return nil, fmt.Errorf("%w: challenge of %d bytes", types.ErrNegotiationFailed, challengeLen)
	}
	res.Challenge = d.ReadBytes(challengeLen)
	unicode := resp.Unicode()
	res.DomainName = d.ReadString(unicode)
	res.ServerName = d.ReadString(unicode)
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrNegotiationFailed, err)
	}
	return res, nil
}

// fileTimeToTime converts a Windows FILETIME (100ns ticks since 1601).
func fileTimeToTime(ft uint64) time.Time {
	const epochDelta = 116444736000000000
	if ft < epochDelta {
		return time.Time{}
	}
	ticks := ft - epochDelta
	return time.Unix(int64(ticks/10000000), int64(ticks%10000000)*100).UTC()
}

package session

import (
	"context"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/smbenc"
	"github.com/marmos91/cifscore/internal/cifs/spnego"
	"github.com/marmos91/cifscore/internal/cifs/transport"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

const (
	legacySetupWordCount   = 13
	extendedSetupWordCount = 12

	legacySetupReplyWordCount   = 3
	extendedSetupReplyWordCount = 4

	// maxSetupRounds bounds MORE_PROCESSING_REQUIRED round trips.
	maxSetupRounds = 4
)

// clientCapabilities are announced in every SESSION_SETUP_ANDX.
const clientCapabilities = types.CapUnicode | types.CapNTSMBs | types.CapStatus32 |
	types.CapLargeFiles | types.CapLevel2Oplocks

// SetupReply is the server's final SESSION_SETUP_ANDX response.
type SetupReply struct {
	UID           uint16
	Action        uint16
	NativeOS      string
	NativeLanMan  string
	PrimaryDomain string

	// SecurityBlob is the last security blob of an extended exchange.
	SecurityBlob []byte

	// MACKey is the signing key derived by the exchange, if any.
	MACKey []byte
}

// =============================================================================
// Legacy session setup
// =============================================================================

func (s *Session) legacySetup(ctx context.Context, r legacyResponses) (*SetupReply, error) {
	neg := s.neg
	unicode := neg.Unicode()

	p := smbenc.NewWriter(2 * legacySetupWordCount)
	writeAndXNone(p)
	p.WriteUint16(s.cfg.MaxBufferSize)
	p.WriteUint16(neg.MaxMpxCount)
	p.WriteUint16(0) // VcNumber
	p.WriteUint32(neg.SessionKey)
	p.WriteUint16(uint16(len(r.lm)))
	p.WriteUint16(uint16(len(r.nt)))
	p.WriteUint32(0)
	p.WriteUint32(uint32(clientCapabilities))

	d := smbenc.NewWriterAt(128, header.DataOffsetFor(legacySetupWordCount))
	d.WriteBytes(r.lm)
	d.WriteBytes(r.nt)
	d.WriteString(s.creds.Username, unicode)
	d.WriteString(s.creds.Domain, unicode)
	d.WriteString(s.cfg.NativeOS, unicode)
	d.WriteString(s.cfg.NativeLanMan, unicode)
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("session setup: encode: %w", err)
	}

	resp, err := s.conn.RoundTrip(ctx, s.setupRequest(0, p.Bytes(), d.Bytes()), s.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if err := types.NewStatusError(resp.Command, resp.Status); err != nil {
		return nil, err
	}
	if resp.WordCount() != legacySetupReplyWordCount {
		return nil, fmt.Errorf("%w: %w: session setup word count %d", types.ErrAuthenticationFailed, types.ErrMalformedFrame, resp.WordCount())
	}

	reply := &SetupReply{UID: resp.UID, MACKey: r.macKey}
	rp := smbenc.NewReader(resp.Params)
	rp.Skip(4)
	reply.Action = rp.ReadUint16()
	readSetupStrings(reply, smbenc.NewReaderAt(resp.Data, resp.DataOffset()), resp.Unicode())
	return reply, nil
}

// =============================================================================
// Extended security session setup
// =============================================================================

func (s *Session) extendedSetup(ctx context.Context, mech SecurityMechanism) (*SetupReply, error) {
	neg := s.neg
	if len(neg.SecurityBlob) > 0 {
		offer, err := spnego.Parse(neg.SecurityBlob)
		if err != nil {
			return nil, fmt.Errorf("%w: negotiate security blob: %w", types.ErrAuthenticationFailed, err)
		}
		if offer.Type == spnego.TokenTypeInit && len(offer.MechTypes) > 0 && !offer.HasMechanism(mech.OID()) {
			return nil, fmt.Errorf("%w: server does not offer mechanism %s", types.ErrAuthenticationFailed, mech.OID())
		}
	}

	token, err := mech.InitToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
	}
	blob, err := spnego.BuildInit([]asn1.ObjectIdentifier{mech.OID()}, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
	}

	var uid uint16
	for round := 0; round < maxSetupRounds; round++ {
		resp, err := s.conn.RoundTrip(ctx, s.setupRequest(uid, s.extendedParams(len(blob)), s.extendedData(blob)), s.cfg.Timeout)
		if err != nil {
			return nil, err
		}
		if resp.Status != types.StatusMoreProcessingRequired {
			if err := types.NewStatusError(resp.Command, resp.Status); err != nil {
				return nil, err
			}
		}

		reply, err := parseExtendedReply(resp)
		if err != nil {
			return nil, err
		}
		// The first round assigns the UID used for the rest of the exchange.
		if uid == 0 {
			uid = reply.UID
		}

		var serverToken []byte
		if len(reply.SecurityBlob) > 0 {
			parsed, err := spnego.Parse(reply.SecurityBlob)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
			}
			if parsed.NegState == spnego.NegStateReject {
				return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, spnego.ErrRejected)
			}
			serverToken = parsed.MechToken
		}

		if resp.Status.IsSuccess() {
			reply.UID = uid
			reply.MACKey = mech.SessionKey()
			return reply, nil
		}

		next, err := mech.Next(serverToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
		}
		if blob, err = spnego.BuildClientResponse(next); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
		}
	}
	return nil, fmt.Errorf("%w: no result after %d setup rounds", types.ErrAuthenticationFailed, maxSetupRounds)
}

func (s *Session) extendedParams(blobLen int) []byte {
	p := smbenc.NewWriter(2 * extendedSetupWordCount)
	writeAndXNone(p)
	p.WriteUint16(s.cfg.MaxBufferSize)
	p.WriteUint16(s.neg.MaxMpxCount)
	p.WriteUint16(0) // VcNumber
	p.WriteUint32(s.neg.SessionKey)
	p.WriteUint16(uint16(blobLen))
	p.WriteUint32(0)
	p.WriteUint32(uint32(clientCapabilities | types.CapExtendedSecurity))
	return p.Bytes()
}

func (s *Session) extendedData(blob []byte) []byte {
	unicode := s.neg.Unicode()
	d := smbenc.NewWriterAt(len(blob)+64, header.DataOffsetFor(extendedSetupWordCount))
	d.WriteBytes(blob)
	d.WriteString(s.cfg.NativeOS, unicode)
	d.WriteString(s.cfg.NativeLanMan, unicode)
	return d.Bytes()
}

func parseExtendedReply(resp *header.Message) (*SetupReply, error) {
	if resp.WordCount() != extendedSetupReplyWordCount {
		return nil, fmt.Errorf("%w: %w: session setup word count %d", types.ErrAuthenticationFailed, types.ErrMalformedFrame, resp.WordCount())
	}
	p := smbenc.NewReader(resp.Params)
	p.Skip(4)
	reply := &SetupReply{UID: resp.UID, Action: p.ReadUint16()}
	blobLen := int(p.ReadUint16())

	d := smbenc.NewReaderAt(resp.Data, resp.DataOffset())
	reply.SecurityBlob = d.ReadBytes(blobLen)
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w: security blob: %w", types.ErrAuthenticationFailed, types.ErrMalformedFrame, err)
	}
	readSetupStrings(reply, d, resp.Unicode())
	return reply, nil
}

// readSetupStrings reads the optional trailing strings of a setup reply.
// Servers may truncate or omit them.
func readSetupStrings(reply *SetupReply, d *smbenc.Reader, unicode bool) {
	if d.Remaining() > 0 {
		reply.NativeOS = d.ReadString(unicode)
	}
	if d.Remaining() > 0 {
		reply.NativeLanMan = d.ReadString(unicode)
	}
	if d.Remaining() > 0 {
		reply.PrimaryDomain = d.ReadString(unicode)
	}
}

func (s *Session) setupRequest(uid uint16, params, data []byte) *transport.Request {
	return &transport.Request{
		Command: types.CommandSessionSetup,
		Flags:   types.FlagsCaseless,
		Flags2:  s.neg.Flags2(),
		UID:     uid,
		PID:     s.cfg.PID,
		Params:  params,
		Data:    data,
	}
}

// writeAndXNone writes an AndX block that ends the chain.
func writeAndXNone(w *smbenc.Writer) {
	w.WriteUint8(uint8(types.CommandNoAndX))
	w.WriteUint8(0)
	w.WriteUint16(0)
}

package cifstest

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/ntlm"
	"github.com/marmos91/cifscore/internal/cifs/smbenc"
	"github.com/marmos91/cifscore/internal/cifs/spnego"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

const (
	maxBufferSize = 16644
	maxRawSize    = 65536

	maximalAccess      = 0x001F01FF
	guestMaximalAccess = 0x001200A9
)

// response is an encoded reply waiting to be signed and written.
type response struct {
	header.Message
}

func (c *conn) flags2(req *header.Message) types.Flags2 {
	f := types.Flags2LongNames | types.Flags2NTStatus | (req.Flags2 & types.Flags2Unicode)
	if c.srv.opts.ExtendedSecurity {
		f |= types.Flags2ExtendedSecurity
	}
	return f
}

func (c *conn) reply(req *header.Message, status types.Status, params, data []byte) *response {
	r := &response{Message: header.Message{
		Header: header.Header{
			Command: req.Command,
			Status:  status,
			Flags:   types.FlagsReply | types.FlagsCaseless,
			Flags2:  c.flags2(req),
			PIDHigh: req.PIDHigh,
			TID:     req.TID,
			PIDLow:  req.PIDLow,
			UID:     req.UID,
			MID:     req.MID,
		},
		Params: params,
		Data:   data,
	}}
	return r
}

func (c *conn) errorReply(req *header.Message, status types.Status) *response {
	return c.reply(req, status, nil, nil)
}

func andXNone(w *smbenc.Writer) {
	w.WriteUint8(uint8(types.CommandNoAndX))
	w.WriteUint8(0)
	w.WriteUint16(0)
}

// =============================================================================
// NEGOTIATE
// =============================================================================

func (c *conn) negotiate(req *header.Message) *response {
	opts := c.srv.opts

	index := -1
	r := smbenc.NewReader(req.Data)
	for i := 0; r.Remaining() > 0; i++ {
		if r.ReadUint8() != 0x02 {
			break
		}
		if r.ReadString(false) == types.DialectNTLM012 && index < 0 {
			index = i
		}
	}
	if index < 0 || opts.RejectDialects {
		p := smbenc.NewWriter(2)
		p.WriteUint16(types.DialectNone)
		return c.reply(req, types.StatusSuccess, p.Bytes(), nil)
	}

	mode := types.SecurityModeUserLevel | types.SecurityModeEncryptPasswords
	if opts.ShareLevel {
		mode &^= types.SecurityModeUserLevel
	}
	if opts.PlaintextPasswords {
		mode &^= types.SecurityModeEncryptPasswords
	}
	if opts.SigningEnabled || opts.SigningRequired {
		mode |= types.SecurityModeSignaturesEnabled
	}
	if opts.SigningRequired {
		mode |= types.SecurityModeSignaturesRequired
	}

	caps := types.CapUnicode | types.CapNTSMBs | types.CapStatus32 | types.CapLargeFiles |
		types.CapLevel2Oplocks | types.CapNTFind
	challengeLen := 8
	if opts.ExtendedSecurity {
		caps |= types.CapExtendedSecurity
		challengeLen = 0
	}

	p := smbenc.NewWriter(34)
	p.WriteUint16(uint16(index))
	p.WriteUint8(uint8(mode))
	p.WriteUint16(opts.MaxMpx)
	p.WriteUint16(1)
	p.WriteUint32(maxBufferSize)
	p.WriteUint32(maxRawSize)
	p.WriteUint32(0)
	p.WriteUint32(uint32(caps))
	p.WriteUint64(ntlm.FileTime(time.Now()))
	p.WriteUint16(0)
	p.WriteUint8(uint8(challengeLen))

	unicode := req.Unicode()
	d := smbenc.NewWriter(64)
	if opts.ExtendedSecurity {
		d.WriteBytes(serverGUID[:])
		blob, err := spnego.BuildInit([]asn1.ObjectIdentifier{spnego.OIDNTLMSSP}, nil)
		if err != nil {
			return c.errorReply(req, types.StatusInvalidParameter)
		}
		d.WriteBytes(blob)
	} else {
		c.mu.Lock()
		d.WriteBytes(c.challenge[:])
		c.mu.Unlock()
		d.WriteString(opts.Domain, unicode)
		d.WriteString(opts.ServerName, unicode)
	}
	return c.reply(req, types.StatusSuccess, p.Bytes(), d.Bytes())
}

var serverGUID = [16]byte{0x63, 0x69, 0x66, 0x73, 0x74, 0x65, 0x73, 0x74, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

// =============================================================================
// SESSION_SETUP_ANDX
// =============================================================================

func (c *conn) sessionSetup(req *header.Message) *response {
	switch req.WordCount() {
	case 13:
		return c.legacySetup(req)
	case 12:
		if !c.srv.opts.ExtendedSecurity {
			return c.errorReply(req, types.StatusInvalidParameter)
		}
		return c.extendedSetup(req)
	default:
		return c.errorReply(req, types.StatusInvalidParameter)
	}
}

func (c *conn) legacySetup(req *header.Message) *response {
	p := smbenc.NewReader(req.Params)
	p.Skip(4 + 2 + 2 + 2 + 4)
	lmLen := int(p.ReadUint16())
	ntLen := int(p.ReadUint16())

	unicode := req.Unicode()
	d := smbenc.NewReaderAt(req.Data, req.DataOffset())
	lm := d.ReadBytes(lmLen)
	nt := d.ReadBytes(ntLen)
	user := d.ReadString(unicode)
	domain := d.ReadString(unicode)
	if p.Err() != nil || d.Err() != nil {
		return c.errorReply(req, types.StatusInvalidParameter)
	}

	c.mu.Lock()
	challenge := c.challenge
	c.mu.Unlock()

	macKey, guest, ok := c.srv.verifyLegacy(user, domain, challenge, lm, nt)
	if !ok {
		return c.errorReply(req, types.StatusLogonFailure)
	}
	return c.establish(req, c.srv.allocUID(), user, guest, macKey, nil)
}

func (c *conn) extendedSetup(req *header.Message) *response {
	p := smbenc.NewReader(req.Params)
	p.Skip(4 + 2 + 2 + 2 + 4)
	blobLen := int(p.ReadUint16())
	d := smbenc.NewReaderAt(req.Data, req.DataOffset())
	blob := d.ReadBytes(blobLen)
	if p.Err() != nil || d.Err() != nil {
		return c.errorReply(req, types.StatusInvalidParameter)
	}

	tok, err := spnego.Parse(blob)
	if err != nil {
		return c.errorReply(req, types.StatusInvalidParameter)
	}

	if tok.Type == spnego.TokenTypeInit {
		if !tok.HasMechanism(spnego.OIDNTLMSSP) || ntlm.GetMessageType(tok.MechToken) != ntlm.Negotiate {
			return c.rejectSetup(req)
		}
		var chal [8]byte
		_, _ = rand.Read(chal[:])
		uid := c.srv.allocUID()

		c.mu.Lock()
		c.pending[uid] = chal
		c.mu.Unlock()

		opts := c.srv.opts
		info := ntlm.BuildTargetInfo(opts.Domain, opts.ServerName, ntlm.FileTime(time.Now()))
		challengeMsg := ntlm.BuildChallenge(ntlm.DefaultClientFlags|ntlm.FlagTargetTypeDomain, chal, opts.Domain, info)
		out, err := spnego.BuildAcceptIncomplete(spnego.OIDNTLMSSP, challengeMsg)
		if err != nil {
			return c.errorReply(req, types.StatusInvalidParameter)
		}
		resp := c.extendedReply(req, types.StatusMoreProcessingRequired, 0, out)
		resp.UID = uid
		return resp
	}

	uid := req.UID
	c.mu.Lock()
	chal, ok := c.pending[uid]
	delete(c.pending, uid)
	c.mu.Unlock()
	if !ok {
		return c.errorReply(req, types.StatusInvalidParameter)
	}

	auth, err := ntlm.ParseAuthenticate(tok.MechToken)
	if err != nil {
		return c.rejectSetup(req)
	}
	sessionKey, guest, ok := c.srv.verifyNTLMSSP(auth, chal)
	if !ok {
		return c.rejectSetup(req)
	}

	out, err := spnego.BuildAcceptComplete(spnego.OIDNTLMSSP, nil)
	if err != nil {
		return c.errorReply(req, types.StatusInvalidParameter)
	}
	return c.establish(req, uid, auth.Username, guest, sessionKey, out)
}

func (c *conn) rejectSetup(req *header.Message) *response {
	out, err := spnego.BuildReject()
	if err != nil {
		return c.errorReply(req, types.StatusLogonFailure)
	}
	return c.extendedReply(req, types.StatusLogonFailure, 0, out)
}

// establish records a logged-on session, activates signing when the
// session produced a key and the client asked for it, and builds the final
// setup reply.
func (c *conn) establish(req *header.Message, uid uint16, user string, guest bool, macKey, blob []byte) *response {
	c.mu.Lock()
	c.sessions[uid] = &serverSession{user: user, guest: guest}
	c.mu.Unlock()

	opts := c.srv.opts
	wantSigning := opts.SigningRequired ||
		(opts.SigningEnabled && req.Flags2&types.Flags2SecuritySignature != 0)
	if wantSigning && !guest && len(macKey) > 0 {
		c.activateSigning(macKey)
	}

	var action uint16
	if guest {
		action = types.ActionGuest
	}

	var resp *response
	if blob != nil {
		resp = c.extendedReply(req, types.StatusSuccess, action, blob)
	} else {
		p := smbenc.NewWriter(6)
		andXNone(p)
		p.WriteUint16(action)
		resp = c.reply(req, types.StatusSuccess, p.Bytes(), c.setupStrings(req, nil))
	}
	resp.UID = uid
	return resp
}

func (c *conn) extendedReply(req *header.Message, status types.Status, action uint16, blob []byte) *response {
	p := smbenc.NewWriter(8)
	andXNone(p)
	p.WriteUint16(action)
	p.WriteUint16(uint16(len(blob)))
	return c.reply(req, status, p.Bytes(), c.setupStrings(req, blob))
}

// setupStrings returns the data section of a setup reply: blob followed by
// NativeOS, NativeLanMan and PrimaryDomain.
func (c *conn) setupStrings(req *header.Message, blob []byte) []byte {
	wc := 3
	if blob != nil {
		wc = 4
	}
	unicode := req.Unicode()
	d := smbenc.NewWriterAt(len(blob)+96, header.DataOffsetFor(wc))
	d.WriteBytes(blob)
	d.WriteString("Unix", unicode)
	d.WriteString("cifstest", unicode)
	d.WriteString(c.srv.opts.Domain, unicode)
	return d.Bytes()
}

// =============================================================================
// TREE_CONNECT_ANDX / TREE_DISCONNECT
// =============================================================================

func (c *conn) treeConnect(req *header.Message) *response {
	if !c.knownUID(req.UID) {
		return c.errorReply(req, types.StatusUserSessionDeleted)
	}

	p := smbenc.NewReader(req.Params)
	p.Skip(4)
	flags := p.ReadUint16()
	pwLen := int(p.ReadUint16())

	d := smbenc.NewReaderAt(req.Data, req.DataOffset())
	password := d.ReadBytes(pwLen)
	path := d.ReadString(req.Unicode())
	if p.Err() != nil || d.Err() != nil {
		return c.errorReply(req, types.StatusInvalidParameter)
	}

	name := path[strings.LastIndex(path, `\`)+1:]
	share, ok := c.srv.lookupShare(name)
	if !ok {
		return c.errorReply(req, types.StatusBadNetworkName)
	}
	if c.srv.opts.ShareLevel && share.Password != "" {
		c.mu.Lock()
		want := ntlm.NTLMResponse(ntlm.NTHash(share.Password), c.challenge[:])
		c.mu.Unlock()
		if string(password) != string(want[:]) {
			return c.errorReply(req, types.StatusAccessDenied)
		}
	}

	c.mu.Lock()
	tid := c.nextTID
	c.nextTID++
	c.trees[tid] = share.Name
	c.mu.Unlock()

	service := share.Service
	if service == "" {
		service = "A:"
	}

	wc := 3
	if flags&types.TreeConnectExtendedResponse != 0 {
		wc = 7
	}
	w := smbenc.NewWriter(2 * wc)
	andXNone(w)
	w.WriteUint16(types.SupportSearchBits)
	if wc == 7 {
		w.WriteUint32(maximalAccess)
		w.WriteUint32(guestMaximalAccess)
	}
	data := smbenc.NewWriterAt(32, header.DataOffsetFor(wc))
	data.WriteString(service, false)
	data.WriteString("NTFS", req.Unicode())

	resp := c.reply(req, types.StatusSuccess, w.Bytes(), data.Bytes())
	resp.TID = tid
	return resp
}

func (c *conn) treeDisconnect(req *header.Message) *response {
	c.mu.Lock()
	_, ok := c.trees[req.TID]
	delete(c.trees, req.TID)
	c.mu.Unlock()
	if !ok {
		return c.errorReply(req, types.StatusNetworkNameDeleted)
	}
	return c.reply(req, types.StatusSuccess, nil, nil)
}

// =============================================================================
// LOGOFF_ANDX / ECHO
// =============================================================================

func (c *conn) logoff(req *header.Message) *response {
	c.mu.Lock()
	_, ok := c.sessions[req.UID]
	delete(c.sessions, req.UID)
	c.mu.Unlock()
	if !ok {
		return c.errorReply(req, types.StatusUserSessionDeleted)
	}
	p := smbenc.NewWriter(4)
	andXNone(p)
	return c.reply(req, types.StatusSuccess, p.Bytes(), nil)
}

func (c *conn) echo(req *header.Message) *response {
	p := smbenc.NewReader(req.Params)
	if p.ReadUint16() == 0 {
		return nil
	}
	w := smbenc.NewWriter(2)
	w.WriteUint16(1)
	return c.reply(req, types.StatusSuccess, w.Bytes(), append([]byte(nil), req.Data...))
}

func (c *conn) knownUID(uid uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[uid]
	return ok
}

// oplockBreak builds a server-initiated LOCKING_ANDX oplock break.
func oplockBreak(tid, fid uint16) ([]byte, error) {
	p := smbenc.NewWriter(16)
	andXNone(p)
	p.WriteUint16(fid)
	p.WriteUint8(0x02) // LOCKING_ANDX_OPLOCK_RELEASE
	p.WriteUint8(0)    // break to none
	p.WriteUint32(0)
	p.WriteUint16(0)
	p.WriteUint16(0)
	return header.Encode(&header.Message{
		Header: header.Header{
			Command: types.CommandLockingAndX,
			Flags:   types.FlagsCaseless,
			Flags2:  types.Flags2LongNames | types.Flags2NTStatus,
			TID:     tid,
			MID:     types.MIDOplockBreak,
		},
		Params: p.Bytes(),
	})
}

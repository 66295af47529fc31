package types

import "fmt"

// Command is an SMB1 command code (header offset 4).
type Command uint8

const (
	CommandClose           Command = 0x04
	CommandLockingAndX     Command = 0x24
	CommandEcho            Command = 0x2B
	CommandReadAndX        Command = 0x2E
	CommandWriteAndX       Command = 0x2F
	CommandTrans2          Command = 0x32
	CommandTreeDisconnect  Command = 0x71
	CommandNegotiate       Command = 0x72
	CommandSessionSetup    Command = 0x73
	CommandLogoffAndX      Command = 0x74
	CommandTreeConnectAndX Command = 0x75
	CommandNTTransact      Command = 0xA0
	CommandNTCreateAndX    Command = 0xA2

	// CommandNoAndX terminates an AndX chain.
	CommandNoAndX Command = 0xFF
)

var commandNames = map[Command]string{
	CommandClose:           "CLOSE",
	CommandLockingAndX:     "LOCKING_ANDX",
	CommandEcho:            "ECHO",
	CommandReadAndX:        "READ_ANDX",
	CommandWriteAndX:       "WRITE_ANDX",
	CommandTrans2:          "TRANSACTION2",
	CommandTreeDisconnect:  "TREE_DISCONNECT",
	CommandNegotiate:       "NEGOTIATE",
	CommandSessionSetup:    "SESSION_SETUP_ANDX",
	CommandLogoffAndX:      "LOGOFF_ANDX",
	CommandTreeConnectAndX: "TREE_CONNECT_ANDX",
	CommandNTTransact:      "NT_TRANSACT",
	CommandNTCreateAndX:    "NT_CREATE_ANDX",
	CommandNoAndX:          "NO_ANDX",
}

// String returns the protocol name of the command.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD_0x%02X", uint8(c))
}

// DialectNTLM012 is the only dialect this client proposes.
const DialectNTLM012 = "NT LM 0.12"

// DialectNone is the DialectIndex a server returns when no dialect matched.
const DialectNone uint16 = 0xFFFF

// MIDOplockBreak is the multiplex id servers use for unsolicited oplock
// break requests. It is never allocated to a client request.
const MIDOplockBreak uint16 = 0xFFFF

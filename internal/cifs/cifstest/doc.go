// Package cifstest provides an in-process SMB1 server for tests.
//
// The server speaks just enough of NT LM 0.12 to exercise the client core:
// NEGOTIATE with and without extended security, SESSION_SETUP_ANDX for the
// LANMAN, NTLM, NTLMv2 and NTLMSSP methods, TREE_CONNECT_ANDX,
// TREE_DISCONNECT, LOGOFF_ANDX and ECHO. It signs and verifies messages like
// a real server and exposes fault injection hooks (delays, dropped or
// tampered responses, forced statuses, dropped connections and oplock break
// pushes).
package cifstest

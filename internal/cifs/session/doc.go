// Package session implements SMB1 dialect negotiation, session setup and
// tree connection on top of a transport.Conn.
//
// A Session is one authenticated principal on a connection. Setup runs the
// authentication exchange selected by an AuthMethod: the legacy LANMAN,
// NTLM and NTLMv2 challenge responses, or NTLMSSP carried in SPNEGO
// (extended security). Every exchange here goes through Conn.RoundTrip and
// never triggers a reconnect, so the same code runs from a ReconnectHandler.
package session

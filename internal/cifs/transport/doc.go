// Package transport owns the TCP connection to one CIFS server.
//
// A Conn frames SMB1 messages over the socket, correlates responses with
// requests by multiplex id (MID), signs outgoing requests and verifies
// responses once signing is active, and re-establishes the socket after a
// failure. Exactly one receiver goroutine reads each socket generation;
// callers block in RoundTrip or SendAndWait on a per-request channel.
//
// Session state is not tracked here. Callers install a ReconnectHandler to
// renegotiate and re-authenticate once a new socket is up, and an
// OnDisconnect hook to invalidate their sessions when the socket is lost.
package transport

// Package header implements the SMB1/CIFS frame codec.
//
// A frame on the wire is a 4-byte session prefix followed by the SMB message:
//
//	+------+-----------------+--------------------------------------------+
//	| type | length (24 bit) | 32-byte header | wct | words | bcc | bytes |
//	+------+-----------------+--------------------------------------------+
//
// The prefix is big-endian; every field after it is little-endian. The
// parameter section holds WordCount 16-bit words and the data section holds
// ByteCount bytes.
//
// Reference: [MS-CIFS] 2.2.3.1, RFC 1002 4.3.1.
package header

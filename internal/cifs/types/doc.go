// Package types holds the SMB1/CIFS protocol constants shared by the codec,
// transport and session layers: command codes, header flags, capability and
// security-mode bits, NT status codes and the client error taxonomy.
//
// References: [MS-CIFS] 2.2.3.1 (header), [MS-SMB] 2.2.4 (extensions),
// [MS-ERREF] 2.3 (NTSTATUS).
package types

// Package smbenc provides the binary cursor used to build and parse SMB1/CIFS
// wire structures.
//
// Reader and Writer accumulate the first error instead of returning one from
// every call, so a whole structure can be read and checked once:
//
//	r := smbenc.NewReader(params)
//	dialect := r.ReadUint16()
//	mode := r.ReadUint8()
//	maxMpx := r.ReadUint16()
//	if err := r.Err(); err != nil {
//	    return err
//	}
//
// Integers are little-endian. Strings are either OEM (code page 437) or
// UTF-16LE, null terminated. Unicode strings in the SMB data section must start
// on an even offset from the start of the SMB header, so both cursors carry a
// base offset that is added to their position when computing alignment.
package smbenc

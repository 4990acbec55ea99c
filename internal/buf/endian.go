// Package buf contains little-endian load/store helpers and size arithmetic
// shared by the allocator layers.
package buf

import "encoding/binary"

// U32LE reads a little-endian uint32 from b. Returns 0 when b is too short.
func U32LE(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// PutU32LE stores v at the start of b. Returns false when b is too short.
func PutU32LE(b []byte, v uint32) bool {
	if len(b) < 4 {
		return false
	}
	binary.LittleEndian.PutUint32(b, v)
	return true
}

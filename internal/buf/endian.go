package buf

import "encoding/binary"

// U16 reads a little-endian uint16 from b. Returns 0 when b is too short.
func U16(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U32 reads a little-endian uint32 from b. Returns 0 when b is too short.
func U32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian uint64 from b. Returns 0 when b is too short.
func U64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// PutU16 writes a little-endian uint16 into b. No-op if b is too short.
func PutU16(b []byte, v uint16) {
	if len(b) < 2 {
		return
	}
	binary.LittleEndian.PutUint16(b, v)
}

// PutU32 writes a little-endian uint32 into b. No-op if b is too short.
func PutU32(b []byte, v uint32) {
	if len(b) < 4 {
		return
	}
	binary.LittleEndian.PutUint32(b, v)
}

// PutU64 writes a little-endian uint64 into b. No-op if b is too short.
func PutU64(b []byte, v uint64) {
	if len(b) < 8 {
		return
	}
	binary.LittleEndian.PutUint64(b, v)
}

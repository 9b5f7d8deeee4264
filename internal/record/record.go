// Package record defines the versioned key/value record ("V" in the design
// docs) and its on-disk header ("VH"), along with the two-phase CRC-32C
// scheme used to protect every log entry.
//
// A Version is owned by exactly one index at a time (the live memory index
// or the multi-statement staging index); replacing an equal key returns the
// displaced Version to the caller, matching the move-only ownership model
// described in the design notes. Go's garbage collector retires the
// displaced Version once the caller drops the reference, so there is no
// explicit Free step here.
package record

import (
	"errors"
	"hash/crc32"

	"github.com/PawelMarc/sophia/internal/alloc"
	"github.com/PawelMarc/sophia/internal/buf"
)

// Flag marks whether a Version represents a live value or a tombstone.
type Flag uint8

const (
	// Set marks a live key/value pair.
	Set Flag = 1
	// Del marks a tombstone: the key was deleted, value is empty.
	Del Flag = 2
	// EOF marks the terminal sentinel record written when a log is sealed
	// cleanly. It carries no key or value.
	EOF Flag = 0xFF
)

// Size limits from the spec: keys are bounded by a 16-bit length prefix,
// values by a 32-bit one.
const (
	MaxKeySize   = 1<<16 - 1
	MaxValueSize = 1<<32 - 1
)

var (
	// ErrKeyTooLarge is returned when a key exceeds MaxKeySize.
	ErrKeyTooLarge = errors.New("record: key exceeds size limit")
	// ErrValueTooLarge is returned when a value exceeds MaxValueSize.
	ErrValueTooLarge = errors.New("record: value exceeds size limit")
)

// HeaderSize is the fixed on-disk size of a VH header: crc(4) + size(2) +
// voffset(4) + vsize(4) + flags(1).
const HeaderSize = 4 + 2 + 4 + 4 + 1

// Header is the on-disk record header (VH), repeated once per record ahead
// of its key and value bytes.
type Header struct {
	CRC     uint32
	Size    uint16 // key length
	VOffset uint32 // reserved, always 0 at write time
	VSize   uint32 // value length (0 for Del)
	Flags   Flag
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// PartialCRC computes CRC-32C over key and value only. It is computed once,
// when a Version is created, independent of which epoch or header the
// record eventually lands in.
func PartialCRC(key, value []byte) uint32 {
	c := crc32.Update(0, crcTable, key)
	return crc32.Update(c, crcTable, value)
}

// FinishCRC folds the header tail (every field after CRC itself) into a
// key/value partial CRC, producing the value stored in Header.CRC. The crc
// field of the encoded tail is treated as zero, per spec.
func FinishCRC(partial uint32, h Header) uint32 {
	var tail [HeaderSize - 4]byte
	encodeHeaderTail(tail[:], h)
	return crc32.Update(partial, crcTable, tail[:])
}

func encodeHeaderTail(b []byte, h Header) {
	buf.PutU16(b[0:2], h.Size)
	buf.PutU32(b[2:6], h.VOffset)
	buf.PutU32(b[6:10], h.VSize)
	b[10] = byte(h.Flags)
}

// Encode serializes h into a freshly allocated HeaderSize buffer.
func Encode(h Header) []byte {
	b := make([]byte, HeaderSize)
	buf.PutU32(b[0:4], h.CRC)
	encodeHeaderTail(b[4:], h)
	return b
}

// Decode parses a HeaderSize-byte buffer into a Header.
func Decode(b []byte) (Header, bool) {
	if !buf.Has(b, 0, HeaderSize) {
		return Header{}, false
	}
	return Header{
		CRC:     buf.U32(b[0:4]),
		Size:    buf.U16(b[4:6]),
		VOffset: buf.U32(b[6:10]),
		VSize:   buf.U32(b[10:14]),
		Flags:   Flag(b[14]),
	}, true
}

// Version is an in-memory key/value record tagged with the epoch it was
// written under.
type Version struct {
	Flags Flag
	Epoch uint64
	Key   []byte
	Value []byte
	// CRC is the partial CRC-32C over (Key, Value) only, computed once at
	// construction time; FinishCRC folds in the header tail when the
	// record is finally framed for the log.
	CRC uint32
}

// New allocates a Version for a SET, validating size limits and copying
// key/value through a (the environment's pluggable alloc(fn, ctx) hook,
// or alloc.Std{} if a is nil), matching sp_do's "allocate V n = new(k,v)"
// step. The copy also means the caller's buffers can be reused once this
// returns.
func New(a alloc.Allocator, key, value []byte) (*Version, error) {
	if len(key) > MaxKeySize {
		return nil, ErrKeyTooLarge
	}
	if len(value) > MaxValueSize {
		return nil, ErrValueTooLarge
	}
	k := copyVia(a, key)
	v := copyVia(a, value)
	return &Version{
		Flags: Set,
		Key:   k,
		Value: v,
		CRC:   PartialCRC(k, v),
	}, nil
}

// NewTombstone allocates a Version for a DELETE (empty value).
func NewTombstone(a alloc.Allocator, key []byte) (*Version, error) {
	if len(key) > MaxKeySize {
		return nil, ErrKeyTooLarge
	}
	k := copyVia(a, key)
	return &Version{
		Flags: Del,
		Key:   k,
		CRC:   PartialCRC(k, nil),
	}, nil
}

// copyVia defensively copies b through a's Alloc, defaulting to
// alloc.Std{} when the caller passed no allocator.
func copyVia(a alloc.Allocator, b []byte) []byte {
	if a == nil {
		a = alloc.Std{}
	}
	out := a.Alloc(len(b))
	copy(out, b)
	return out
}

// IsDelete reports whether v is a tombstone.
func (v *Version) IsDelete() bool { return v.Flags == Del }

// Header builds the on-disk header for v, stamping VOffset=0 as the spec
// requires (reserved, unused at write time).
func (v *Version) Header() Header {
	return Header{
		Size:  uint16(len(v.Key)),
		VSize: uint32(len(v.Value)),
		Flags: v.Flags,
	}
}

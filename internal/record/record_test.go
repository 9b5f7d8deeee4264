package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSetsCRCAndFlags(t *testing.T) {
	v, err := New(nil, []byte("k"), []byte("v"))
	require.NoError(t, err)
	require.Equal(t, Set, v.Flags)
	require.Equal(t, PartialCRC([]byte("k"), []byte("v")), v.CRC)
}

func TestNewTombstoneHasNoValue(t *testing.T) {
	v, err := NewTombstone(nil, []byte("k"))
	require.NoError(t, err)
	require.True(t, v.IsDelete())
	require.Empty(t, v.Value)
}

func TestSizeGuards(t *testing.T) {
	bigKey := make([]byte, MaxKeySize+1)
	_, err := New(nil, bigKey, nil)
	require.ErrorIs(t, err, ErrKeyTooLarge)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v, err := New(nil, []byte("hello"), []byte("world"))
	require.NoError(t, err)
	h := v.Header()
	h.CRC = FinishCRC(v.CRC, h)

	b := Encode(h)
	require.Len(t, b, HeaderSize)

	got, ok := Decode(b)
	require.True(t, ok)
	require.Equal(t, h, got)
}

func TestFinishCRCDetectsTamperedHeader(t *testing.T) {
	v, err := New(nil, []byte("a"), []byte("b"))
	require.NoError(t, err)
	h := v.Header()
	crc := FinishCRC(v.CRC, h)

	h.VSize++ // simulate a corrupted length field
	require.NotEqual(t, crc, FinishCRC(v.CRC, h))
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, ok := Decode(make([]byte, HeaderSize-1))
	require.False(t, ok)
}

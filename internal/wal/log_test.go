package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PawelMarc/sophia/internal/record"
)

func writeOneRecord(t *testing.T, l *Log, key, value []byte) {
	t.Helper()
	h := record.Header{Size: uint16(len(key)), VSize: uint32(len(value)), Flags: record.Set}
	h.CRC = record.FinishCRC(record.PartialCRC(key, value), h)
	l.Savepoint()
	l.Add(record.Encode(h), key, value)
	require.NoError(t, l.Put())
}

func TestCreateAndScanRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000001.log")

	l, err := Create(path)
	require.NoError(t, err)
	writeOneRecord(t, l, []byte("a"), []byte("1"))
	writeOneRecord(t, l, []byte("b"), []byte("2"))
	require.NoError(t, l.Close())

	var keys []string
	endOffset, err := Scan(path, func(h record.Header, key, value []byte) {
		keys = append(keys, string(key)+"="+string(value))
	})
	require.NoError(t, err)
	require.Greater(t, endOffset, int64(headerSize))
	require.Equal(t, []string{"a=1", "b=2"}, keys)
}

func TestScanStopsAtEOFMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000002.log")

	l, err := Create(path)
	require.NoError(t, err)
	writeOneRecord(t, l, []byte("a"), []byte("1"))
	require.NoError(t, l.WriteEOF())
	require.NoError(t, l.Close())

	var n int
	_, err = Scan(path, func(h record.Header, key, value []byte) { n++ })
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestScanTruncatedTailIsTolerated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000003.log")

	l, err := Create(path)
	require.NoError(t, err)
	writeOneRecord(t, l, []byte("keep"), []byte("me"))
	writeOneRecord(t, l, []byte("lose"), []byte("me"))
	require.NoError(t, l.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-8))

	var keys []string
	_, err = Scan(path, func(h record.Header, key, value []byte) {
		keys = append(keys, string(key))
	})
	require.NoError(t, err)
	require.Equal(t, []string{"keep"}, keys)
}

func TestRollbackDiscardsPendingBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000004.log")

	l, err := Create(path)
	require.NoError(t, err)
	writeOneRecord(t, l, []byte("a"), []byte("1"))

	l.Savepoint()
	h := record.Header{Size: 1, VSize: 1, Flags: record.Set}
	l.Add(record.Encode(h), []byte("x"), []byte("y"))
	require.NoError(t, l.Rollback())
	require.NoError(t, l.Close())

	var keys []string
	_, err = Scan(path, func(h record.Header, key, value []byte) {
		keys = append(keys, string(key))
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, keys)
}

func TestCompleteRenamesToSealed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000005.log")

	l, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, l.Complete())
	require.NoError(t, l.Close())

	_, err = os.Stat(path + ".sealed")
	require.NoError(t, err)
}

package wal

import (
	"io"
	"os"

	"github.com/PawelMarc/sophia/internal/record"
)

// Scan reads every well-formed record from the log file at path (after its
// header) and calls visit for each one, in file order. It stops at the
// first EOF sentinel, or tolerates a trailing truncated/corrupt record by
// simply stopping early without error: records already delivered to visit
// remain recovered, matching the spec's truncation-recovery scenario.
//
// Scan returns the file offset one past the last fully validated record,
// which callers use as the log's logical end (discarding any trailing
// garbage) when reopening the file for further appends.
func Scan(path string, visit func(h record.Header, key, value []byte)) (endOffset int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, _, err := ReadHeader(f); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	fileSize := info.Size()

	off := int64(headerSize)
	hbuf := make([]byte, record.HeaderSize)
	for {
		n, rerr := f.ReadAt(hbuf, off)
		if n < record.HeaderSize {
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF || rerr == nil {
				break
			}
			return off, rerr
		}
		h, ok := record.Decode(hbuf)
		if !ok {
			break
		}
		if h.Flags == record.EOF {
			off += int64(record.HeaderSize)
			break
		}
		recLen := int64(h.Size) + int64(h.VSize)
		if recLen > fileSize-(off+int64(record.HeaderSize)) {
			// The header claims more body than the file has left: a
			// truncated or corrupted record, not a size worth allocating
			// for. Stop here, same as a short read below.
			break
		}
		body := make([]byte, recLen)
		n, rerr = f.ReadAt(body, off+int64(record.HeaderSize))
		if int64(n) < recLen {
			// Truncated mid-record: stop here, keep everything recovered so far.
			break
		}
		if rerr != nil && rerr != io.EOF {
			return off, rerr
		}
		key := body[:h.Size]
		value := body[h.Size:]
		crc := record.FinishCRC(record.PartialCRC(key, value), h)
		if crc != h.CRC {
			// CRC mismatch: treat this and everything after it as corrupt.
			break
		}
		visit(h, key, value)
		off += int64(record.HeaderSize) + recLen
	}
	return off, nil
}

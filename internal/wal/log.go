// Package wal implements the framed, batched, CRC-checked append-only log
// file that backs each epoch ("Log writer" in the design docs). A log file
// starts with a small header, then a sequence of (header, key, value)
// records, and optionally ends with an EOF sentinel record once sealed.
package wal

import (
	"errors"
	"fmt"
	"os"

	"github.com/PawelMarc/sophia/internal/buf"
	"github.com/PawelMarc/sophia/internal/record"
)

// Magic identifies a sophia log file; VersionMajor/VersionMinor are the
// compile-time format version written into every log file header.
const (
	Magic        uint32 = 0x53504731 // "SPG1"
	VersionMajor uint32 = 1
	VersionMinor uint32 = 0
)

// headerSize is the on-disk size of the log file header (magic + two
// version bytes).
const headerSize = 4 + 1 + 1

var (
	// ErrBadMagic is returned when a log file's header does not match Magic.
	ErrBadMagic = errors.New("wal: bad log file magic")
	// ErrSealed is returned when a write is attempted against a sealed log.
	ErrSealed = errors.New("wal: log is sealed")
)

// Log is a single epoch's append-only log file with a batching buffer on
// top. It is not safe for concurrent use; the engine serializes access
// with lockr.
type Log struct {
	f         *os.File
	path      string
	sealed    bool
	offset    int64 // current logical end of file
	savepoint int64
	batch     []byte
	headers   int // number of records staged in batch, for commit-loop batching
}

// Create creates a new log file at path, writing the file header.
func Create(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: create log: %w", err)
	}
	hdr := make([]byte, headerSize)
	buf.PutU32(hdr[0:4], Magic)
	hdr[4] = byte(VersionMajor)
	hdr[5] = byte(VersionMinor)
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("wal: write log header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("wal: sync log header: %w", err)
	}
	return &Log{f: f, path: path, offset: int64(headerSize)}, nil
}

// OpenForAppend reopens an existing, unsealed log file for continued
// appends after recovery validates its header.
func OpenForAppend(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, _, err := ReadHeader(f); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 2); err != nil {
		f.Close()
		return nil, err
	}
	return &Log{f: f, path: path, offset: info.Size()}, nil
}

// OpenSealed reopens an already-sealed log file (suffix ".sealed") for
// read-only access during recovery, e.g. so the merger can later drain it
// into a page file.
func OpenSealed(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open sealed log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, _, err := ReadHeader(f); err != nil {
		f.Close()
		return nil, err
	}
	return &Log{f: f, path: path, offset: info.Size(), sealed: true}, nil
}

// ReadHeader validates and consumes the log file header from f, leaving
// the read cursor positioned at the first record.
func ReadHeader(f *os.File) (major, minor uint32, err error) {
	hdr := make([]byte, headerSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return 0, 0, fmt.Errorf("wal: read log header: %w", err)
	}
	if buf.U32(hdr[0:4]) != Magic {
		return 0, 0, ErrBadMagic
	}
	return uint32(hdr[4]), uint32(hdr[5]), nil
}

// Path returns the log's current file path.
func (l *Log) Path() string { return l.path }

// Savepoint snapshots the current durable file offset so a failed batch
// can be rolled back with Rollback.
func (l *Log) Savepoint() {
	l.savepoint = l.offset
}

// Add appends one record's header, key, and value bytes to the pending
// batch without writing them to disk yet.
func (l *Log) Add(header, key, value []byte) {
	l.batch = append(l.batch, header...)
	l.batch = append(l.batch, key...)
	l.batch = append(l.batch, value...)
	l.headers++
}

// HasRoom reports whether the batch can still admit another record before
// hitting maxHeaders staged records, matching the spec's "cannot admit
// three more segments" capacity check (one header + key + value == three
// segments per record).
func (l *Log) HasRoom(maxHeaders int) bool {
	return l.headers < maxHeaders
}

// Pending reports whether the batch has unflushed data.
func (l *Log) Pending() bool {
	return len(l.batch) > 0
}

// Put flushes the pending batch to disk and fsyncs it: on success the
// batch's records are durable.
func (l *Log) Put() error {
	if l.sealed {
		return ErrSealed
	}
	if len(l.batch) == 0 {
		return nil
	}
	n, err := l.f.WriteAt(l.batch, l.offset)
	if err != nil {
		return fmt.Errorf("wal: write log batch: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("wal: fsync log batch: %w", err)
	}
	l.offset += int64(n)
	l.batch = l.batch[:0]
	l.headers = 0
	return nil
}

// Rollback discards the pending batch and truncates the file back to the
// last Savepoint, undoing a partially written record after an I/O failure.
func (l *Log) Rollback() error {
	l.batch = l.batch[:0]
	l.headers = 0
	if err := l.f.Truncate(l.savepoint); err != nil {
		return fmt.Errorf("wal: rollback log: %w", err)
	}
	l.offset = l.savepoint
	return nil
}

// WriteEOF writes the terminal sentinel record so recovery can tell this
// log closed cleanly rather than having been truncated mid-record.
func (l *Log) WriteEOF() error {
	h := record.Header{Flags: record.EOF}
	eofBytes := record.Encode(h)
	if _, err := l.f.WriteAt(eofBytes, l.offset); err != nil {
		return fmt.Errorf("wal: write eof marker: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("wal: fsync eof marker: %w", err)
	}
	l.offset += int64(len(eofBytes))
	return nil
}

// Complete seals a full log: renames it to its sealed name so recovery can
// distinguish "awaiting conversion" logs from the single live one.
func (l *Log) Complete() error {
	if l.sealed {
		return nil
	}
	sealedPath := l.path + ".sealed"
	if err := os.Rename(l.path, sealedPath); err != nil {
		return fmt.Errorf("wal: complete log: %w", err)
	}
	l.path = sealedPath
	l.sealed = true
	return nil
}

// Unlink removes an empty log file.
func (l *Log) Unlink() error {
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("wal: unlink log: %w", err)
	}
	return nil
}

// Close closes the underlying file descriptor.
func (l *Log) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

//go:build unix

// Package mmfile maps a completed page file ("db" epoch) into memory for
// the engine's close/GC path. The actual page layout is produced and
// interpreted by the out-of-scope sorted-page collaborator; this package
// only owns the mapping lifecycle.
package mmfile

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// File is a read-only memory mapping of a page file.
type File struct {
	data []byte
}

// Map maps the file at path read-only.
func Map(path string) (*File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmfile: open: %w", err)
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, fmt.Errorf("mmfile: fstat: %w", err)
	}
	size := stat.Size
	if size == 0 {
		return &File{data: []byte{}}, nil
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmfile: mmap: %w", err)
	}
	return &File{data: data}, nil
}

// Bytes returns the mapped content.
func (f *File) Bytes() []byte { return f.data }

// Close unmaps the file.
func (f *File) Close() error {
	if f == nil || f.data == nil || len(f.data) == 0 {
		return nil
	}
	err := unix.Munmap(f.data)
	f.data = nil
	return err
}

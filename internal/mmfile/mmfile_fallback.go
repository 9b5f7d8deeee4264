//go:build !unix

package mmfile

import "os"

// File is a read-only in-memory copy of a page file, used on platforms
// without a POSIX mmap (Windows support is left to the external page
// reader collaborator; this fallback just keeps the engine buildable).
type File struct {
	data []byte
}

// Map reads the file at path fully into memory.
func Map(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &File{data: data}, nil
}

// Bytes returns the mapped content.
func (f *File) Bytes() []byte { return f.data }

// Close releases the in-memory copy.
func (f *File) Close() error {
	f.data = nil
	return nil
}

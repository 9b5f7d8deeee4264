// Package alloc provides the pluggable allocator hook described by the
// environment's alloc() option, plus the directory lock primitive the
// engine holds exclusively for its lifetime.
//
// Go's garbage collector makes manual allocation unnecessary for the
// record/index/log paths, so Allocator exists purely as the injection
// point the spec's alloc() option describes (instrumentation, pooling),
// not as a real malloc/free replacement.
package alloc

// Allocator mirrors the environment's pluggable alloc()/free() hook.
type Allocator interface {
	Alloc(size int) []byte
	Free(b []byte)
}

// Std is the default allocator: plain Go heap allocation, GC-reclaimed.
type Std struct{}

// Alloc returns a freshly allocated, zeroed buffer of size bytes.
func (Std) Alloc(size int) []byte { return make([]byte, size) }

// Free is a no-op; Go's GC reclaims unreferenced buffers.
func (Std) Free([]byte) {}

// Package sophia implements an embedded, single-writer key-value storage
// engine organized as an epoch-partitioned log-structured store. Keys and
// values are opaque bytes; durability and crash recovery are provided by
// append-only per-epoch logs that a background merger task converts into
// immutable sorted page files.
//
// A typical session:
//
//	env := sophia.NewEnv()
//	env.SetDir("/var/lib/mydb", false)
//	e, err := sophia.Open(env)
//	...
//	err = e.Set([]byte("k"), []byte("v"))
//	v, err := e.Get([]byte("k"))
//	err = e.Close()
//
// The sorted, block-indexed on-disk page reader, compaction algorithm, and
// cursor key-matching modes are out of scope here and are represented only
// by the interface this package presents to them (internal/pagefile.Writer).
// The pluggable allocator (internal/alloc.Allocator, bound via
// Env.SetAlloc) is in scope and is exercised by every Set/Delete.
package sophia

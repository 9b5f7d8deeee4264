package sophia

import (
	"github.com/PawelMarc/sophia/internal/alloc"
	"github.com/PawelMarc/sophia/internal/memindex"
)

// Env is the user-facing configuration container. It is created detached,
// mutated freely one option at a time, and becomes inuse the moment an
// Engine opens it; configuration methods called while inuse fail without
// touching any state, and the inuse flag is cleared again when the owning
// Engine closes.
type Env struct {
	inuse bool
	err   *Error

	dir      string
	readOnly bool

	cmp memindex.Comparator

	alloc alloc.Allocator

	page     int
	gc       bool
	gcFactor float64

	growSize   int64
	growFactor float64

	merge   bool
	mergewm int
}

// NewEnv returns a fresh environment with the defaults from the data
// model: page=2048, gc on at factor 0.5, grow 2MiB at 1.4x, merge on,
// mergewm=100000.
func NewEnv() *Env {
	return &Env{
		page:       2048,
		gc:         true,
		gcFactor:   0.5,
		growSize:   2 << 20,
		growFactor: 1.4,
		merge:      true,
		mergewm:    100000,
	}
}

func (e *Env) kind() handleKind { return kindEnv }

// Error returns the most recent error message recorded on this
// environment (each failing setter or Open replaces the previous one), or
// the empty string if none has been set. Rejecting a reconfigure while
// inuse deliberately does not set this slot, so a query right after such a
// rejection still reports whatever was there before (or nothing).
func (e *Env) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

// SetDir sets the storage directory and whether the engine should open
// read-only. The path is owned by the environment and replaced wholesale
// on each call; it is the one required option.
func (e *Env) SetDir(path string, readOnly bool) error {
	if e.inuse {
		return ErrInUse
	}
	e.dir = path
	e.readOnly = readOnly
	return nil
}

// SetComparator installs a custom key comparator (total order, -1/0/+1),
// defaulting to lexicographic memcmp-with-length-tiebreak when never
// called.
func (e *Env) SetComparator(cmp memindex.Comparator) error {
	if e.inuse {
		return ErrInUse
	}
	e.cmp = cmp
	return nil
}

// SetAlloc installs a custom allocator for the key/value buffers Set and
// Delete copy incoming data into, defaulting to libc-malloc-equivalent
// plain Go heap allocation (alloc.Std{}) when never called.
func (e *Env) SetAlloc(a alloc.Allocator) error {
	if e.inuse {
		return ErrInUse
	}
	e.alloc = a
	return nil
}

// SetPage records the refset key-buffer page size; must be >= 2 and even.
// The value is validated here and again at Open, but no refset buffer is
// allocated from it: nothing in the engine reads it after validation.
func (e *Env) SetPage(n int) error {
	if e.inuse {
		return ErrInUse
	}
	if n < 2 || n%2 != 0 {
		e.err = newErr(KindGeneric, "page size must be >= 2 and even")
		return e.err
	}
	e.page = n
	return nil
}

// SetGC records the GC option (enabled flag and fraction threshold) for
// retired epochs. The values are stored only: the engine runs no GC sweep
// and never reclaims retired epochs, whatever they are set to.
func (e *Env) SetGC(enabled bool, factor float64) error {
	if e.inuse {
		return ErrInUse
	}
	e.gc = enabled
	e.gcFactor = factor
	return nil
}

// SetGrow records the initial db file size and its growth ratio. The
// values are stored only: page files are written at exactly the size of
// their contents and do not use them.
func (e *Env) SetGrow(size int64, factor float64) error {
	if e.inuse {
		return ErrInUse
	}
	e.growSize = size
	e.growFactor = factor
	return nil
}

// SetMerge enables or disables the background merger thread.
func (e *Env) SetMerge(enabled bool) error {
	if e.inuse {
		return ErrInUse
	}
	e.merge = enabled
	return nil
}

// SetMergeWatermark sets the in-memory entry count that triggers the
// merger; must be >= 2.
func (e *Env) SetMergeWatermark(n int) error {
	if e.inuse {
		return ErrInUse
	}
	if n < 2 {
		e.err = newErr(KindGeneric, "merge watermark must be >= 2")
		return e.err
	}
	e.mergewm = n
	return nil
}

// validate checks the recognized preconditions before open: dir must be
// set, page >= 2 and even, mergewm >= 2. It deliberately does not touch
// e.err for the inuse-reject case (callers check inuse before calling
// validate at all); any failure here is a distinct, surfaced error kind
// but is not marked fatal.
func (e *Env) validate() error {
	if e.dir == "" {
		return ErrDirRequired
	}
	if e.page < 2 || e.page%2 != 0 {
		return newErr(KindGeneric, "page size must be >= 2 and even")
	}
	if e.mergewm < 2 {
		return newErr(KindGeneric, "merge watermark must be >= 2")
	}
	return nil
}

func (e *Env) comparator() memindex.Comparator {
	if e.cmp != nil {
		return e.cmp
	}
	return memindex.Lexicographic
}

func (e *Env) allocator() alloc.Allocator {
	if e.alloc != nil {
		return e.alloc
	}
	return alloc.Std{}
}

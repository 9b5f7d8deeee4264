package sophia

import "github.com/PawelMarc/sophia/internal/record"

// Cursor is a snapshot reader over the live memory index at the moment it
// was created. Per §1 Non-scope, merge-during-read against on-disk DB
// epochs and key-matching modes are external collaborators; this cursor
// only iterates the in-memory snapshot, but it fully implements the
// open-cursor/lockc exclusion contract from §5 and §8 invariant 6.
type Cursor struct {
	engine  *Engine
	closed  bool
	entries []*record.Version
	pos     int
}

func (c *Cursor) kind() handleKind { return kindCursor }

// NewCursor opens a cursor over e, incrementing lockc so that mutation is
// blocked on e until the cursor is closed.
func (e *Engine) NewCursor() (*Cursor, error) {
	if err := e.validateState(); err != nil {
		return nil, err
	}
	e.locki.Lock()
	entries := make([]*record.Version, 0, e.i.Count())
	e.i.ForEach(func(v *record.Version) bool {
		entries = append(entries, v)
		return true
	})
	e.lockc++
	e.locki.Unlock()

	return &Cursor{engine: e, entries: entries, pos: -1}, nil
}

// Fetch advances to the next entry, reporting whether one was available.
func (c *Cursor) Fetch() bool {
	if c.closed {
		return false
	}
	c.pos++
	return c.pos < len(c.entries)
}

// Key returns the current entry's key. Valid only after a successful
// Fetch.
func (c *Cursor) Key() []byte {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return nil
	}
	return c.entries[c.pos].Key
}

// Value returns the current entry's value, or nil for a tombstone. Valid
// only after a successful Fetch.
func (c *Cursor) Value() []byte {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return nil
	}
	v := c.entries[c.pos]
	if v.IsDelete() {
		return nil
	}
	return v.Value
}

// IsDelete reports whether the current entry is a tombstone.
func (c *Cursor) IsDelete() bool {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return false
	}
	return c.entries[c.pos].IsDelete()
}

// Close releases the cursor, decrementing lockc and unblocking mutation
// once no other cursor remains open.
func (c *Cursor) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	c.engine.locki.Lock()
	c.engine.lockc--
	c.engine.locki.Unlock()
	return nil
}

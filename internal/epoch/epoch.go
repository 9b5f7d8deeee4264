// Package epoch implements the epoch repository ("Rep" in the design
// docs): the ordered list of epochs and their lifecycle states, plus the
// rotation operation that is the only way to mint a new LIVE epoch.
//
// A Repository is NOT safe for concurrent use; the engine serializes
// access with lockr/locki per the lock-ordering contract in the spec.
package epoch

import (
	"fmt"
	"path/filepath"

	"github.com/PawelMarc/sophia/internal/mmfile"
	"github.com/PawelMarc/sophia/internal/wal"
)

// State is the epoch lifecycle state.
type State uint8

const (
	// Undef marks an epoch discovered during recovery but not yet
	// classified into Live/Xfer/Db.
	Undef State = iota
	// Live is the unique epoch currently accepting appends.
	Live
	// Xfer is a sealed log awaiting conversion into a page file.
	Xfer
	// Db is an immutable sorted page file; its log has been unlinked.
	Db
)

// Epoch is a single generation of storage.
type Epoch struct {
	ID      uint64
	State   State
	Log     *wal.Log     // non-nil while State is Live or Xfer
	DB      *mmfile.File // non-nil once State is Db
	NUpdate uint64
}

// LogPath returns the canonical (unsealed) log file path for an epoch id.
func LogPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.log", id))
}

// DBPath returns the canonical page-file path for an epoch id.
func DBPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.db", id))
}

// Repository is the ordered list of epochs plus the counters and monotonic
// id counter described in the data model.
type Repository struct {
	epochs    []*Epoch
	nextEpoch uint64
	n         int
	ndb       int
	nxfer     int
}

// New returns an empty repository.
func New() *Repository {
	return &Repository{}
}

// EpochCounter returns the most recently minted epoch id (0 before the
// first Rotate).
func (r *Repository) EpochCounter() uint64 { return r.nextEpoch }

// ObserveID bumps the monotonic counter to at least id, used by recovery
// when discovering epochs that already exist on disk.
func (r *Repository) ObserveID(id uint64) {
	if id > r.nextEpoch {
		r.nextEpoch = id
	}
}

// All returns every tracked epoch in insertion order.
func (r *Repository) All() []*Epoch { return r.epochs }

// Counts returns the (total, db, xfer) counters from the data model.
func (r *Repository) Counts() (n, ndb, nxfer int) { return r.n, r.ndb, r.nxfer }

// Live returns the unique LIVE epoch, or nil if none exists (e.g. a
// read-only engine that never rotated).
func (r *Repository) Live() *Epoch {
	for _, e := range r.epochs {
		if e.State == Live {
			return e
		}
	}
	return nil
}

// Attach registers a freshly constructed epoch and bumps its state
// counters.
func (r *Repository) Attach(e *Epoch) {
	r.epochs = append(r.epochs, e)
	r.n++
	r.bumpCounters(e.State, 1)
}

func (r *Repository) bumpCounters(s State, delta int) {
	switch s {
	case Db:
		r.ndb += delta
	case Xfer:
		r.nxfer += delta
	}
}

// SetState transitions e to s, keeping the ndb/nxfer counters in sync.
func (r *Repository) SetState(e *Epoch, s State) {
	r.bumpCounters(e.State, -1)
	e.State = s
	r.bumpCounters(s, 1)
}

// Rotate is the only way to create a new LIVE epoch: it mints a fresh id,
// creates the epoch's log file, writes its header, attaches it, and marks
// it LIVE. Invariant: at most one LIVE epoch exists at a time, so callers
// must ensure any prior LIVE epoch has already been sealed before calling
// Rotate.
func (r *Repository) Rotate(dir string) (*Epoch, error) {
	r.nextEpoch++
	id := r.nextEpoch
	log, err := wal.Create(LogPath(dir, id))
	if err != nil {
		return nil, fmt.Errorf("epoch: rotate: %w", err)
	}
	e := &Epoch{ID: id, State: Live, Log: log}
	r.Attach(e)
	return e, nil
}

// Retire removes e from the repository atomically, updating counters.
func (r *Repository) Retire(e *Epoch) {
	for i, cur := range r.epochs {
		if cur == e {
			r.bumpCounters(cur.State, -1)
			r.epochs = append(r.epochs[:i], r.epochs[i+1:]...)
			r.n--
			return
		}
	}
}

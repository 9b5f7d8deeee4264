package sophia

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/PawelMarc/sophia/internal/alloc"
	"github.com/PawelMarc/sophia/internal/epoch"
	"github.com/PawelMarc/sophia/internal/memindex"
	"github.com/PawelMarc/sophia/internal/merger"
	"github.com/PawelMarc/sophia/internal/mmfile"
	"github.com/PawelMarc/sophia/internal/pagefile"
	"github.com/PawelMarc/sophia/internal/record"
	"github.com/PawelMarc/sophia/internal/recovery"
	"github.com/PawelMarc/sophia/internal/wal"
)

// txnMode is the transaction state machine from §4.6: SS (single
// statement, the default) or MS (multi-statement, after Begin).
type txnMode uint8

const (
	txnSS txnMode = iota
	txnMS
)

// Engine is the open storage engine (S in the design docs). It owns the
// environment exclusively for its lifetime, the lock hierarchy
// lockr->locks->locki, the live/shadow/staging indexes, the epoch
// repository, and the background merger task.
type Engine struct {
	env *Env

	closed bool

	// Lock hierarchy: always acquired in order lockr, locks, locki;
	// released in reverse. lockdb is held for the engine's whole
	// lifetime via dirLock, not acquired per-operation.
	lockr sync.Mutex
	locks sync.Mutex
	locki sync.Mutex

	dirLock *alloc.DirLock
	alloc   alloc.Allocator // env's alloc(fn, ctx) hook, defaulted by Open

	i0, i1 *memindex.Index
	i      *memindex.Index // current live/shadow selector
	itxn   *memindex.Index // multi-statement staging index

	rep *epoch.Repository
	cmp memindex.Comparator

	pageWriter pagefile.Writer
	psn        uint64 // persistent page sequence number

	errMu sync.Mutex
	e     *Error // current error slot
	em    *Error // message-only mirror preferred by Error()

	lockc int // open-cursor counter; >0 blocks mutation

	txn txnMode

	task     *merger.Task
	stopFlag bool
}

func (s *Engine) kind() handleKind { return kindEngine }

// Open runs the sequence from §4.2: validate the environment, initialize
// locks and indexes, invoke recovery, rotate a fresh LIVE epoch (unless
// read-only), and start the merger if enabled. Failure at any step unwinds
// what has been done so far, preserving the first error.
func Open(env *Env) (*Engine, error) {
	if env.inuse {
		return nil, ErrInUse
	}
	if err := env.validate(); err != nil {
		env.err = toError(err)
		return nil, err
	}

	cmp := env.comparator()
	s := &Engine{
		env:        env,
		alloc:      env.allocator(),
		i0:         memindex.New(cmp),
		i1:         memindex.New(cmp),
		itxn:       memindex.New(cmp),
		rep:        epoch.New(),
		cmp:        cmp,
		pageWriter: pagefile.DefaultWriter{},
	}
	s.i = s.i0

	dirLock, err := alloc.LockDir(env.dir)
	if err != nil {
		werr := wrapErr(KindSys, "acquire directory lock", err)
		env.err = werr
		return nil, werr
	}
	s.dirLock = dirLock

	// unwind closes every log and page file recovery or promotion left
	// open, then releases the directory lock.
	unwind := func() {
		for _, e := range s.rep.All() {
			if e.Log != nil {
				e.Log.Close()
			}
			if e.DB != nil {
				e.DB.Close()
			}
		}
		s.dirLock.Unlock()
	}

	insert := func(v *record.Version) {
		s.applyRecovered(v)
	}
	if err := recovery.Recover(env.dir, s.rep, insert); err != nil {
		unwind()
		werr := wrapErr(KindIO, "recover epochs", err)
		env.err = werr
		return nil, werr
	}

	if !env.readOnly {
		if err := s.promoteRecoveredXfer(); err != nil {
			unwind()
			env.err = toError(err)
			return nil, err
		}
		if _, err := s.rep.Rotate(env.dir); err != nil {
			unwind()
			werr := wrapErr(KindIO, "rotate initial epoch", err)
			env.err = werr
			return nil, werr
		}
	}

	if env.merge && !env.readOnly {
		s.task = merger.NewTask()
		s.task.Start(s.shouldMerge, s.mergeOnce)
		s.task.Wake()
	}

	env.inuse = true
	return s, nil
}

// applyRecovered inserts a replayed record.Version into the live index
// during Open, before the engine is visible to callers. Tombstones are
// inserted the same as live values: a later Get sees the Del flag and
// reports not-found.
func (s *Engine) applyRecovered(v *record.Version) {
	s.i.Set(v)
}

// promoteRecoveredXfer finishes the lifecycle of epochs recovery attached
// in the Xfer state: a sealed log left over from a prior run that was
// closed (or crashed) before the merger ever converted it into a page
// file. Recovery already replayed every such log's records into the live
// index for Get/cursor purposes; this step independently re-scans each
// epoch's own sealed log, sorts and dedupes its records through a scratch
// memindex (last-writer-wins, same as a live merge cycle), writes the
// resulting page file, and retires the log — the same drainFrozen steps
// mergeOnce runs, just driven by a leftover epoch instead of the current
// cycle's frozen index. Skipped entirely for read-only engines, which must
// not mutate the directory.
func (s *Engine) promoteRecoveredXfer() error {
	for _, e := range s.rep.All() {
		if e.State != epoch.Xfer {
			continue
		}
		if err := s.promoteXferEpoch(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Engine) promoteXferEpoch(e *epoch.Epoch) error {
	logPath := e.Log.Path()
	scratch := memindex.New(s.cmp)
	if _, err := wal.Scan(logPath, func(h record.Header, key, value []byte) {
		scratch.Set(&record.Version{
			Flags: h.Flags,
			Epoch: e.ID,
			Key:   append([]byte(nil), key...),
			Value: append([]byte(nil), value...),
		})
	}); err != nil {
		return wrapErr(KindIO, "rescan sealed log for promotion", err)
	}

	entries := make([]pagefile.Entry, 0, scratch.Count())
	scratch.ForEach(func(v *record.Version) bool {
		entries = append(entries, pagefile.Entry{Key: v.Key, Value: v.Value, Flags: v.Flags})
		return true
	})

	path := epoch.DBPath(s.env.dir, e.ID)
	if err := s.pageWriter.WritePage(path, entries); err != nil {
		return wrapErr(KindIO, "write page file for recovered epoch", err)
	}
	db, err := mmfile.Map(path)
	if err != nil {
		return wrapErr(KindIO, "map page file for recovered epoch", err)
	}

	if err := e.Log.Close(); err != nil {
		return wrapErr(KindIO, "close sealed log before unlink", err)
	}
	if err := os.Remove(logPath); err != nil {
		return wrapErr(KindIO, "unlink converted log", err)
	}

	e.Log = nil
	e.DB = db
	s.rep.SetState(e, epoch.Db)
	s.psn++
	return nil
}

// Close tears the engine down per §4.2: stop the merger, walk every
// epoch and act on its state, release the directory lock, and mark the
// environment no longer inuse. I/O errors from individual epochs are
// aggregated into a single returned error while every cleanup step still
// runs.
func (s *Engine) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.stopFlag = true
	if s.task != nil {
		s.task.Stop()
	}

	var errs []error
	for _, e := range s.rep.All() {
		switch e.State {
		case epoch.Live:
			if e.NUpdate == 0 {
				if err := e.Log.Unlink(); err != nil {
					errs = append(errs, err)
				}
				if err := e.Log.Close(); err != nil {
					errs = append(errs, err)
				}
				break
			}
			if err := e.Log.WriteEOF(); err != nil {
				errs = append(errs, err)
			}
			fallthrough
		case epoch.Xfer:
			if err := e.Log.Complete(); err != nil {
				errs = append(errs, err)
			}
			if err := e.Log.Close(); err != nil {
				errs = append(errs, err)
			}
		case epoch.Db:
			if err := e.DB.Close(); err != nil {
				errs = append(errs, err)
			}
		case epoch.Undef:
			// no-op
		}
	}

	if err := s.dirLock.Unlock(); err != nil {
		errs = append(errs, err)
	}

	s.env.inuse = false
	s.closed = true

	if len(errs) > 0 {
		return fmt.Errorf("sophia: close: %d error(s), first: %w", len(errs), errs[0])
	}
	return nil
}

// validateState enforces the fail-fast-on-fatal contract (sp_evalidate):
// once the fatal flag is set, every subsequent operation short-circuits
// with the same error.
func (s *Engine) validateState() error {
	if s.closed {
		return ErrClosed
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.e != nil && s.e.Fatal {
		return s.e
	}
	return nil
}

// setErr records err as the current (and, if none was set yet, the
// message-mirror) error slot, first-error-wins.
func (s *Engine) setErr(err *Error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.e == nil {
		s.e = err
	}
	if s.em == nil {
		s.em = err
	}
}

func (s *Engine) setFatal(kind ErrKind, msg string, cause error) *Error {
	fe := fatalErr(kind, msg, cause)
	s.setErr(fe)
	return fe
}

// Error returns the first error message recorded on the engine, preferring
// the em slot, or the empty string if none has been set.
func (s *Engine) Error() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.em != nil {
		return s.em.Error()
	}
	if s.e != nil {
		return s.e.Error()
	}
	return ""
}

// toError normalizes any error into *Error for the env/engine error slots.
// Sentinels in this package already carry the "sophia: " prefix in their
// own message (see errors.go); stripping it before re-wrapping avoids
// Error() stuttering it twice.
func toError(err error) *Error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*Error); ok {
		return se
	}
	return newErr(KindGeneric, strings.TrimPrefix(err.Error(), "sophia: "))
}

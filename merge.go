package sophia

import (
	"context"
	"os"

	"github.com/PawelMarc/sophia/internal/epoch"
	"github.com/PawelMarc/sophia/internal/memindex"
	"github.com/PawelMarc/sophia/internal/mmfile"
	"github.com/PawelMarc/sophia/internal/pagefile"
	"github.com/PawelMarc/sophia/internal/record"
)

// shouldMerge is the merger task's predicate (§4.9 step 1): under locki,
// read the live index's entry count and compare it against the
// watermark.
func (s *Engine) shouldMerge() bool {
	if s.stopFlag {
		return false
	}
	s.locki.Lock()
	count := s.i.Count()
	s.locki.Unlock()
	return count > s.env.mergewm
}

// mergeOnce is the merger task's merge procedure (§4.9 step 2): seal the
// live epoch, rotate a fresh one, swap the live/shadow index selector
// under the write locks, then outside those locks drain the now-frozen
// index into a sorted page file and mark the sealed epoch DB.
func (s *Engine) mergeOnce() error {
	s.lockr.Lock()
	s.locks.Lock()
	s.locki.Lock()

	live := s.rep.Live()
	if live == nil {
		s.locki.Unlock()
		s.locks.Unlock()
		s.lockr.Unlock()
		return nil
	}

	if live.NUpdate > 0 {
		if err := live.Log.WriteEOF(); err != nil {
			s.locki.Unlock()
			s.locks.Unlock()
			s.lockr.Unlock()
			return wrapErr(KindIO, "write eof before merge", err)
		}
	}
	if err := live.Log.Complete(); err != nil {
		s.locki.Unlock()
		s.locks.Unlock()
		s.lockr.Unlock()
		return wrapErr(KindIO, "seal live epoch", err)
	}
	s.rep.SetState(live, epoch.Xfer)

	if _, err := s.rep.Rotate(s.env.dir); err != nil {
		s.locki.Unlock()
		s.locks.Unlock()
		s.lockr.Unlock()
		return wrapErr(KindIO, "rotate epoch during merge", err)
	}

	frozen := s.i
	if s.i == s.i0 {
		s.i = s.i1
	} else {
		s.i = s.i0
	}

	s.locki.Unlock()
	s.locks.Unlock()
	s.lockr.Unlock()

	// Drain the frozen index outside the write locks: new writes against
	// the fresh live epoch/index proceed concurrently with this.
	entries := make([]pagefile.Entry, 0, frozen.Count())
	frozen.ForEach(func(v *record.Version) bool {
		entries = append(entries, pagefile.Entry{Key: v.Key, Value: v.Value, Flags: v.Flags})
		return true
	})

	return s.drainFrozen(live, frozen, entries)
}

// drainFrozen writes frozen's contents to a page file, maps it, and
// retires the sealed log, truncating frozen's structure once the page
// file is durable.
func (s *Engine) drainFrozen(live *epoch.Epoch, frozen *memindex.Index, entries []pagefile.Entry) error {
	path := epoch.DBPath(s.env.dir, live.ID)
	if err := s.pageWriter.WritePage(path, entries); err != nil {
		return wrapErr(KindIO, "write page file", err)
	}
	db, err := mmfile.Map(path)
	if err != nil {
		return wrapErr(KindIO, "map page file", err)
	}

	logPath := live.Log.Path()
	if err := live.Log.Close(); err != nil {
		return wrapErr(KindIO, "close sealed log before unlink", err)
	}
	if err := os.Remove(logPath); err != nil {
		return wrapErr(KindIO, "unlink converted log", err)
	}

	s.locks.Lock()
	s.locki.Lock()
	live.Log = nil
	live.DB = db
	s.rep.SetState(live, epoch.Db)
	s.psn++
	s.locki.Unlock()
	s.locks.Unlock()

	frozen.Truncate()
	return nil
}

// MergeForce invokes the merge procedure synchronously, bypassing the
// background task's watermark check. Rejected while the background
// merger thread is running to avoid two drivers racing over the same
// epoch (§4.9).
func (s *Engine) MergeForce(ctx context.Context) error {
	if err := s.validateState(); err != nil {
		return err
	}
	if s.task != nil {
		return ErrMergeActive
	}
	return s.mergeOnce()
}

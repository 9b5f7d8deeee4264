package sophia

import (
	"github.com/PawelMarc/sophia/internal/record"
)

// checkMutable enforces the preconditions common to Set/Delete/Begin/
// Commit/Rollback: the engine must not be in a fatal error state and no
// cursor may be open.
func (s *Engine) checkMutable() error {
	if err := s.validateState(); err != nil {
		return err
	}
	s.locki.Lock()
	open := s.lockc > 0
	s.locki.Unlock()
	if open {
		return ErrCursorOpen
	}
	if s.env.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Set implements sp_do(SET): compose the record, stage it into the
// multi-statement index if a transaction is active, or append it to the
// live epoch's log and the live memory index otherwise.
func (s *Engine) Set(key, value []byte) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	n, err := record.New(s.alloc, key, value)
	if err != nil {
		return err
	}
	return s.do(n)
}

// Delete implements sp_do(DEL): a tombstone carrying no value.
func (s *Engine) Delete(key []byte) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	n, err := record.NewTombstone(s.alloc, key)
	if err != nil {
		return err
	}
	return s.do(n)
}

// do appends n to the appropriate index per §4.7: itxn while a
// multi-statement transaction is active, otherwise the live epoch's log
// plus the live memory index under lockr then locki.
func (s *Engine) do(n *record.Version) error {
	s.locki.Lock()
	if s.txn == txnMS {
		s.itxn.Set(n)
		s.locki.Unlock()
		return nil
	}
	s.locki.Unlock()

	s.lockr.Lock()
	defer s.lockr.Unlock()

	live := s.rep.Live()
	live.Log.Savepoint()

	header := n.Header()
	header.CRC = record.FinishCRC(n.CRC, header)
	headerBytes := record.Encode(header)
	live.Log.Add(headerBytes, n.Key, n.Value)

	if err := live.Log.Put(); err != nil {
		if rerr := live.Log.Rollback(); rerr != nil {
			return s.setFatal(KindIO, "log rollback failed after write failure", rerr)
		}
		return wrapErr(KindIO, "append log record", err)
	}

	s.locki.Lock()
	n.Epoch = live.ID
	s.i.Set(n)
	s.locki.Unlock()

	live.NUpdate++
	if s.env.merge && s.task != nil && int(live.NUpdate)%s.env.mergewm == 0 {
		s.task.Wake()
	}
	return nil
}

// Get looks up key in the live memory index, matching the in-scope
// boundary from §1: merge-during-read against on-disk db epochs is the
// external sorted-page reader's responsibility, not this engine's.
func (s *Engine) Get(key []byte) ([]byte, error) {
	if err := s.validateState(); err != nil {
		return nil, err
	}
	s.locki.Lock()
	v, ok := s.i.Get(key)
	s.locki.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if v.IsDelete() {
		return nil, ErrNotFound
	}
	return v.Value, nil
}

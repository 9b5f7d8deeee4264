package sophia

import "github.com/PawelMarc/sophia/internal/record"

// commitBatchCap mirrors sp.c's stack buffer of 512 header slots used
// while draining itxn during commit.
const commitBatchCap = 512

// Begin transitions SS -> MS, staging subsequent writes into itxn instead
// of the live log/index until Commit or Rollback.
func (s *Engine) Begin() error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	s.locki.Lock()
	defer s.locki.Unlock()
	if s.txn == txnMS {
		return ErrTransactionActive
	}
	s.txn = txnMS
	return nil
}

// Rollback discards the staged itxn index and returns to SS, leaving the
// live index exactly as it was before Begin.
func (s *Engine) Rollback() error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	s.locki.Lock()
	defer s.locki.Unlock()
	if s.txn != txnMS {
		return ErrNoTransaction
	}
	s.itxn.Truncate()
	s.txn = txnSS
	return nil
}

// Commit drains itxn into the live epoch's log and live memory index
// under lockr+locki per §4.8, in at most commitBatchCap-sized batches.
// Any I/O failure rolls back the transaction and the log and returns the
// error; the engine is marked fatal only when that log rollback itself
// fails. On success itxn is Reset (structure
// only, its Versions now live in i) and txn returns to SS.
func (s *Engine) Commit() error {
	if err := s.checkMutable(); err != nil {
		return err
	}

	s.lockr.Lock()
	defer s.lockr.Unlock()
	s.locki.Lock()
	defer s.locki.Unlock()

	if s.txn != txnMS {
		return ErrNoTransaction
	}

	live := s.rep.Live()
	live.Log.Savepoint()

	var pending int
	var committed uint64
	fail := func(err error) error {
		if rerr := live.Log.Rollback(); rerr != nil {
			err = s.setFatal(KindIO, "log rollback failed during commit failure", rerr)
		}
		s.itxn.Truncate()
		s.txn = txnSS
		return err
	}

	var flushErr error
	s.itxn.ForEach(func(v *record.Version) bool {
		v.Epoch = live.ID
		header := v.Header()
		header.CRC = record.FinishCRC(v.CRC, header)
		live.Log.Add(record.Encode(header), v.Key, v.Value)
		pending++
		committed++
		if pending >= commitBatchCap || !live.Log.HasRoom(commitBatchCap) {
			if err := live.Log.Put(); err != nil {
				flushErr = err
				return false
			}
			pending = 0
		}
		return true
	})
	if flushErr != nil {
		return fail(wrapErr(KindIO, "flush commit batch", flushErr))
	}
	if live.Log.Pending() {
		if err := live.Log.Put(); err != nil {
			return fail(wrapErr(KindIO, "flush final commit batch", err))
		}
	}

	s.itxn.ForEach(func(v *record.Version) bool {
		s.i.Set(v)
		return true
	})
	s.itxn.Reset()
	s.txn = txnSS

	live.NUpdate += committed
	if s.env.merge && s.task != nil && committed > 0 && int(live.NUpdate)%s.env.mergewm == 0 {
		s.task.Wake()
	}
	return nil
}

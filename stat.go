package sophia

// Stats is a point-in-time snapshot of engine counters, matching sp_stat's
// full field set rather than a reduced subset.
type Stats struct {
	Epoch      uint64 // most recently minted epoch id
	PSN        uint64 // persistent page sequence number
	RepN       int    // total tracked epochs
	RepNDB     int    // epochs in the DB state
	RepNXfer   int    // epochs in the XFER state
	CatN       int    // page catalog entry count (reserved; page catalog is out of scope)
	IndexN     int    // live index entry count
	IndexPages int    // live index structural page count
}

// Stat takes a consistent snapshot under lockr, locks, locki in that
// order, the engine's fixed lock hierarchy.
func (s *Engine) Stat() (Stats, error) {
	if err := s.validateState(); err != nil {
		return Stats{}, err
	}
	s.lockr.Lock()
	defer s.lockr.Unlock()
	s.locks.Lock()
	defer s.locks.Unlock()
	s.locki.Lock()
	defer s.locki.Unlock()

	n, ndb, nxfer := s.rep.Counts()
	return Stats{
		Epoch:      s.rep.EpochCounter(),
		PSN:        s.psn,
		RepN:       n,
		RepNDB:     ndb,
		RepNXfer:   nxfer,
		IndexN:     s.i.Count(),
		IndexPages: s.i.PageCount(),
	}, nil
}

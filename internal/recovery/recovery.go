// Package recovery replays on-disk epochs at open time: it discovers the
// *.log, *.log.sealed, and *.db files left in a directory, reconstructs the
// repository's view of them, and replays log records into the live memory
// index. Per spec.md §4.2 this is the "external collaborator" the engine's
// open sequence invokes; it is kept in its own package because it is
// genuinely separable from the write path, not because it is out of scope
// (crash recovery is one of the guarantees spec.md §1 names for the core).
package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/PawelMarc/sophia/internal/epoch"
	"github.com/PawelMarc/sophia/internal/mmfile"
	"github.com/PawelMarc/sophia/internal/record"
	"github.com/PawelMarc/sophia/internal/wal"
)

var (
	logRe    = regexp.MustCompile(`^(\d{20})\.log$`)
	sealedRe = regexp.MustCompile(`^(\d{20})\.log\.sealed$`)
	dbRe     = regexp.MustCompile(`^(\d{20})\.db$`)
)

// Insert receives one recovered record, tagged with the epoch it was
// written under.
type Insert func(v *record.Version)

// Recover scans dir and populates rep with every epoch it finds. Log
// epochs (sealed or not) are replayed into the index via insert and are
// always left in the Xfer state: recovery never produces a LIVE epoch,
// since only Repository.Rotate is allowed to do that. An engine opening
// read-write still calls Rotate itself immediately after Recover returns.
func Recover(dir string, rep *epoch.Repository, insert Insert) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("recovery: read dir: %w", err)
	}

	for _, ent := range entries {
		name := ent.Name()
		switch {
		case dbRe.MatchString(name):
			if err := recoverDB(dir, name, rep); err != nil {
				return err
			}
		case sealedRe.MatchString(name):
			if err := recoverLog(dir, name, sealedRe, rep, insert, true); err != nil {
				return err
			}
		case logRe.MatchString(name):
			if err := recoverLog(dir, name, logRe, rep, insert, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func recoverDB(dir, name string, rep *epoch.Repository) error {
	m := dbRe.FindStringSubmatch(name)
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return fmt.Errorf("recovery: parse db epoch id: %w", err)
	}
	db, err := mmfile.Map(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("recovery: map db file %s: %w", name, err)
	}
	rep.ObserveID(id)
	rep.Attach(&epoch.Epoch{ID: id, State: epoch.Db, DB: db})
	return nil
}

func recoverLog(dir, name string, re *regexp.Regexp, rep *epoch.Repository, insert Insert, sealed bool) error {
	m := re.FindStringSubmatch(name)
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return fmt.Errorf("recovery: parse log epoch id: %w", err)
	}
	path := filepath.Join(dir, name)

	endOffset, err := wal.Scan(path, func(h record.Header, key, value []byte) {
		v := &record.Version{
			Flags: h.Flags,
			Epoch: id,
			Key:   append([]byte(nil), key...),
			Value: append([]byte(nil), value...),
			CRC:   record.PartialCRC(key, value),
		}
		insert(v)
	})
	if err != nil {
		return fmt.Errorf("recovery: scan log %s: %w", name, err)
	}

	// Discard any trailing bytes past the last validated record (crash
	// mid-write, or an unwritten EOF marker) so future appends/completion
	// start from a clean boundary.
	if err := os.Truncate(path, endOffset); err != nil {
		return fmt.Errorf("recovery: truncate log %s: %w", name, err)
	}

	var log *wal.Log
	if sealed {
		log, err = wal.OpenSealed(path)
	} else {
		log, err = wal.OpenForAppend(path)
	}
	if err != nil {
		return fmt.Errorf("recovery: reopen log %s: %w", name, err)
	}

	rep.ObserveID(id)
	rep.Attach(&epoch.Epoch{ID: id, State: epoch.Xfer, Log: log})
	return nil
}

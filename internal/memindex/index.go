// Package memindex implements the in-memory key index ("I" in the design
// docs): an ordered key -> latest Version mapping, grouped into fixed-size
// pages for bulk truncate/reset. Last-writer-wins semantics apply: setting
// an already-present key returns the displaced Version to the caller.
//
// An Index is NOT safe for concurrent use; callers serialize access with
// their own lock (the engine's locki), the same contract the teacher's
// dirty.Tracker documents for its own non-thread-safe accumulator.
package memindex

import (
	"bytes"
	"sort"

	"github.com/PawelMarc/sophia/internal/record"
)

// Comparator orders two keys, returning -1, 0, or +1 (total order).
type Comparator func(a, b []byte) int

// Lexicographic is the default comparator: memcmp with length tiebreak.
func Lexicographic(a, b []byte) int {
	return bytes.Compare(a, b)
}

const defaultPageCapacity = 128

// page is a sorted run of entries; the index keeps a sorted list of pages
// so that both locating a page (binary search over page minimums) and
// locating a key within a page (binary search over entries) are O(log n).
type page struct {
	entries []*record.Version // sorted by Key
}

func (p *page) minKey() []byte {
	return p.entries[0].Key
}

// Index is the page-chunked ordered key index.
type Index struct {
	cmp       Comparator
	pages     []*page
	count     int
	pageCap   int
}

// New creates an empty index ordered by cmp. A nil cmp defaults to
// Lexicographic.
func New(cmp Comparator) *Index {
	if cmp == nil {
		cmp = Lexicographic
	}
	return &Index{cmp: cmp, pageCap: defaultPageCapacity}
}

// Count returns the number of live entries (including tombstones).
func (idx *Index) Count() int { return idx.count }

// PageCount returns the number of structural pages ("icount").
func (idx *Index) PageCount() int { return len(idx.pages) }

// locatePage returns the index of the page that would contain key, and
// whether the index has any pages at all.
func (idx *Index) locatePage(key []byte) (int, bool) {
	if len(idx.pages) == 0 {
		return 0, false
	}
	// Find the last page whose minKey <= key.
	i := sort.Search(len(idx.pages), func(i int) bool {
		return idx.cmp(idx.pages[i].minKey(), key) > 0
	})
	if i == 0 {
		return 0, true
	}
	return i - 1, true
}

// Get returns the current Version for key, if present.
func (idx *Index) Get(key []byte) (*record.Version, bool) {
	pi, ok := idx.locatePage(key)
	if !ok {
		return nil, false
	}
	p := idx.pages[pi]
	j := sort.Search(len(p.entries), func(j int) bool {
		return idx.cmp(p.entries[j].Key, key) >= 0
	})
	if j < len(p.entries) && idx.cmp(p.entries[j].Key, key) == 0 {
		return p.entries[j], true
	}
	return nil, false
}

// Set inserts or replaces v by key, last-writer-wins. The displaced
// Version (if any) is returned so callers can observe the replacement;
// Go's GC reclaims it once unreferenced.
func (idx *Index) Set(v *record.Version) (old *record.Version) {
	if len(idx.pages) == 0 {
		idx.pages = append(idx.pages, &page{entries: []*record.Version{v}})
		idx.count++
		return nil
	}
	pi, _ := idx.locatePage(v.Key)
	p := idx.pages[pi]
	j := sort.Search(len(p.entries), func(j int) bool {
		return idx.cmp(p.entries[j].Key, v.Key) >= 0
	})
	if j < len(p.entries) && idx.cmp(p.entries[j].Key, v.Key) == 0 {
		old = p.entries[j]
		p.entries[j] = v
		return old
	}
	p.entries = insertAt(p.entries, j, v)
	idx.count++
	if len(p.entries) > idx.pageCap {
		idx.splitPage(pi)
	}
	return nil
}

func insertAt(s []*record.Version, i int, v *record.Version) []*record.Version {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func (idx *Index) splitPage(pi int) {
	p := idx.pages[pi]
	mid := len(p.entries) / 2
	left := &page{entries: append([]*record.Version(nil), p.entries[:mid]...)}
	right := &page{entries: append([]*record.Version(nil), p.entries[mid:]...)}
	idx.pages[pi] = left
	idx.pages = append(idx.pages, nil)
	copy(idx.pages[pi+2:], idx.pages[pi+1:])
	idx.pages[pi+1] = right
}

// Truncate drops all structural pages AND their owned Versions. Used to
// discard a rolled-back multi-statement transaction, and to reclaim a
// frozen index once the merger has durably written its contents to a page
// file.
func (idx *Index) Truncate() {
	idx.pages = nil
	idx.count = 0
}

// Reset drops only the structural pages, leaving the Versions themselves
// intact. Used after a commit hands its staged records over to the live
// index: the Versions now live there, only the staging structure is
// cleared.
func (idx *Index) Reset() {
	idx.pages = nil
	idx.count = 0
}

// ForEach visits every entry in ascending key order. fn returning false
// stops iteration early.
func (idx *Index) ForEach(fn func(*record.Version) bool) {
	for _, p := range idx.pages {
		for _, v := range p.entries {
			if !fn(v) {
				return
			}
		}
	}
}

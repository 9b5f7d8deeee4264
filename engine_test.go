package sophia_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PawelMarc/sophia"
	"github.com/PawelMarc/sophia/internal/alloc"
)

func openEngine(t *testing.T, dir string, configure func(env *sophia.Env)) *sophia.Engine {
	t.Helper()
	env := sophia.NewEnv()
	require.NoError(t, env.SetDir(dir, false))
	if configure != nil {
		configure(env)
	}
	e, err := sophia.Open(env)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// Scenario 1: durability across restart.
func TestDurabilityAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	e := openEngine(t, dir, nil)
	require.NoError(t, e.Set([]byte("a"), []byte("1")))
	require.NoError(t, e.Close())

	env := sophia.NewEnv()
	require.NoError(t, env.SetDir(dir, false))
	e2, err := sophia.Open(env)
	require.NoError(t, err)
	defer e2.Close()

	v, err := e2.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

// Scenario 2 / invariant 9: replacement law.
func TestReplacementLaw(t *testing.T) {
	e := openEngine(t, t.TempDir(), nil)
	require.NoError(t, e.Set([]byte("k"), []byte("v1")))
	require.NoError(t, e.Set([]byte("k"), []byte("v2")))

	v, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
}

// Scenario 3 / invariant 7: MS staging isolation.
func TestMSStagingIsolation(t *testing.T) {
	e := openEngine(t, t.TempDir(), nil)
	require.NoError(t, e.Begin())
	require.NoError(t, e.Set([]byte("x"), []byte("1")))

	_, err := e.Get([]byte("x"))
	require.ErrorIs(t, err, sophia.ErrNotFound)
}

// Scenario 4: commit makes MS writes visible.
func TestCommitMakesWritesVisible(t *testing.T) {
	e := openEngine(t, t.TempDir(), nil)
	require.NoError(t, e.Begin())
	require.NoError(t, e.Set([]byte("x"), []byte("1")))
	require.NoError(t, e.Commit())

	v, err := e.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

// Scenario 5 / invariant 8: rollback idempotence.
func TestRollbackIdempotence(t *testing.T) {
	e := openEngine(t, t.TempDir(), nil)
	require.NoError(t, e.Set([]byte("x"), []byte("before")))

	require.NoError(t, e.Begin())
	require.NoError(t, e.Set([]byte("x"), []byte("after")))
	require.NoError(t, e.Rollback())

	v, err := e.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("before"), v)
}

// Scenario 6: crossing the merge watermark eventually produces a DB epoch.
// The merger only re-checks its count>watermark predicate on a wake, and
// wakes happen on multiples of mergewm: with the minimum allowed mergewm
// of 2, the first multiple where count also exceeds 2 is 4, so four
// distinct keys reliably trigger a merge.
func TestMergeWatermarkTriggersMerger(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, func(env *sophia.Env) {
		require.NoError(t, env.SetMergeWatermark(2))
	})

	for i := 0; i < 4; i++ {
		key := []byte{byte('a' + i)}
		require.NoError(t, e.Set(key, []byte("v")))
	}

	require.Eventually(t, func() bool {
		stats, err := e.Stat()
		if err != nil {
			return false
		}
		return stats.RepNDB >= 1
	}, 2*time.Second, 10*time.Millisecond, "expected at least one DB epoch after crossing the watermark")
}

// Scenario 7: opening without a directory fails with a specific error.
func TestOpenWithoutDirFails(t *testing.T) {
	env := sophia.NewEnv()
	_, err := sophia.Open(env)
	require.ErrorIs(t, err, sophia.ErrDirRequired)
}

// Scenario 8 / invariant 6: cursor exclusion.
func TestCursorBlocksMutation(t *testing.T) {
	e := openEngine(t, t.TempDir(), nil)
	cur, err := e.NewCursor()
	require.NoError(t, err)
	defer cur.Close()

	err = e.Set([]byte("a"), []byte("b"))
	require.ErrorIs(t, err, sophia.ErrCursorOpen)
}

// Scenario 9: a sealed log truncated at the tail still recovers its prior
// records, rejecting only the corrupted tail.
func TestRecoveryToleratesTruncatedLog(t *testing.T) {
	dir := t.TempDir()

	e := openEngine(t, dir, nil)
	require.NoError(t, e.Set([]byte("keep"), []byte("me")))
	require.NoError(t, e.Set([]byte("lose"), []byte("me2")))
	require.NoError(t, e.Close())

	// Close() appends an EOF marker after the two records before sealing;
	// truncate far enough to cut into the second record's body (not just
	// the EOF marker) so its loss is genuine corruption, not a clean stop.
	logPath := filepath.Join(dir, "00000000000000000001.log.sealed")
	info, err := os.Stat(logPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(logPath, info.Size()-20))

	env := sophia.NewEnv()
	require.NoError(t, env.SetDir(dir, false))
	e2, err := sophia.Open(env)
	require.NoError(t, err)
	defer e2.Close()

	v, err := e2.Get([]byte("keep"))
	require.NoError(t, err)
	require.Equal(t, []byte("me"), v)

	_, err = e2.Get([]byte("lose"))
	require.ErrorIs(t, err, sophia.ErrNotFound)
}

// Invariant 2: at most one LIVE epoch at any observable quiescent point.
func TestAtMostOneLiveEpoch(t *testing.T) {
	e := openEngine(t, t.TempDir(), nil)
	require.NoError(t, e.Set([]byte("a"), []byte("1")))

	stats, err := e.Stat()
	require.NoError(t, err)
	// Exactly one epoch total (the live one) at this quiescent point, none
	// yet sealed.
	require.Equal(t, 1, stats.RepN)
	require.Equal(t, 0, stats.RepNDB)
	require.Equal(t, 0, stats.RepNXfer)
}

// A sealed log that never reached the merger before Close (the current
// LIVE epoch had updates but hadn't crossed the watermark) must not stay
// Xfer forever: the next Open promotes it to a DB epoch and removes its
// log, so a long-lived directory doesn't accumulate unconverted logs
// across restarts.
func TestRecoveredXferEpochPromotedOnReopen(t *testing.T) {
	dir := t.TempDir()

	e := openEngine(t, dir, nil)
	require.NoError(t, e.Set([]byte("a"), []byte("1")))
	require.NoError(t, e.Close())

	logPath := filepath.Join(dir, "00000000000000000001.log.sealed")
	_, err := os.Stat(logPath)
	require.NoError(t, err, "close should have sealed the unmerged live epoch's log")

	env := sophia.NewEnv()
	require.NoError(t, env.SetDir(dir, false))
	e2, err := sophia.Open(env)
	require.NoError(t, err)
	defer e2.Close()

	_, err = os.Stat(logPath)
	require.True(t, os.IsNotExist(err), "recovered Xfer epoch's sealed log should be retired after promotion")

	dbPath := filepath.Join(dir, "00000000000000000001.db")
	_, err = os.Stat(dbPath)
	require.NoError(t, err, "recovered Xfer epoch should have been promoted to a db file")

	v, err := e2.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	stats, err := e2.Stat()
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.RepNDB, 1)
}

// countingAllocator wraps alloc.Std{} to verify the env(alloc(fn, ctx))
// option is actually invoked by the write path rather than just stored.
type countingAllocator struct {
	calls int
}

func (c *countingAllocator) Alloc(size int) []byte {
	c.calls++
	return alloc.Std{}.Alloc(size)
}

func (c *countingAllocator) Free(b []byte) { alloc.Std{}.Free(b) }

// The env(alloc(fn, ctx)) option is exercised by every Set/Delete, not
// merely stored and round-tripped.
func TestCustomAllocatorIsExercisedBySet(t *testing.T) {
	a := &countingAllocator{}
	e := openEngine(t, t.TempDir(), func(env *sophia.Env) {
		require.NoError(t, env.SetAlloc(a))
	})

	require.NoError(t, e.Set([]byte("k"), []byte("v")))
	require.Greater(t, a.calls, 0)

	v, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

// Invariant 10: size guards reject without mutation.
func TestSizeGuardsRejectOversizedKey(t *testing.T) {
	e := openEngine(t, t.TempDir(), nil)
	bigKey := make([]byte, 1<<16)
	err := e.Set(bigKey, []byte("v"))
	require.Error(t, err)

	_, err = e.Get(bigKey)
	require.ErrorIs(t, err, sophia.ErrNotFound)
}

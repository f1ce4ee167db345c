package algs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kolkov/txmem/internal/tm/memword"
	"github.com/kolkov/txmem/internal/tm/meta"
	"github.com/kolkov/txmem/internal/tm/txthread"
)

func TestNanoRoundTrip(t *testing.T) {
	tx := newTestThread(t)
	x := new(uint64)
	addr := wordAddr(x)
	o := meta.OrecFor(addr)
	v0 := o.Load()

	beginOn(t, tx, Nano)

	tx.Write(tx, addr, 7, memword.FullMask)
	// lazy writeback: memory is untouched until commit
	require.EqualValues(t, 0, *x)
	// read-after-write served from the buffer
	require.EqualValues(t, 7, tx.Read(tx, addr, memword.FullMask))

	tx.Commit(tx)

	require.EqualValues(t, 7, *x)
	require.Equal(t, v0+1, o.Load(), "commit must bump the orec version once")
	require.EqualValues(t, 1, tx.CommitsRW)
}

func TestNanoReadOnlyCommitTouchesNoMetadata(t *testing.T) {
	tx := newTestThread(t)
	x := new(uint64)
	*x = 11
	addr := wordAddr(x)
	o := meta.OrecFor(addr)
	v0 := o.Load()

	beginOn(t, tx, Nano)
	require.EqualValues(t, 11, tx.Read(tx, addr, memword.FullMask))
	tx.Commit(tx)

	require.Equal(t, v0, o.Load(), "a read-only commit leaves the orec alone")
	require.EqualValues(t, 1, tx.CommitsRO)
	require.False(t, tx.InFlight.Load())
}

func TestNanoConflictingCommit(t *testing.T) {
	t1 := newTestThread(t)
	t2 := newTestThread(t)
	x := new(uint64)
	addr := wordAddr(x)

	require.NoError(t, SwitchTo(Nano))
	BeginTx(t1)
	BeginTx(t2)

	// both observe x == 0
	require.EqualValues(t, 0, t1.Read(t1, addr, memword.FullMask))
	require.EqualValues(t, 0, t2.Read(t2, addr, memword.FullMask))

	// t1 wins
	t1.Write(t1, addr, 1, memword.FullMask)
	t1.Commit(t1)
	require.EqualValues(t, 1, *x)

	// t2 must abort in the validate phase: the orec moved under it
	t2.Write(t2, addr, 2, memword.FullMask)
	sig := catchAbort(func() { t2.Commit(t2) })
	require.NotNil(t, sig, "conflicting commit did not abort")
	require.Equal(t, txthread.AbortConflict, sig.Reason)
	cleanupAbort(t2, sig)

	require.EqualValues(t, 1, *x, "loser's write leaked into memory")
}

func TestNanoReadValidationAbortsStaleSnapshot(t *testing.T) {
	t1 := newTestThread(t)
	t2 := newTestThread(t)
	x := new(uint64)
	y := new(uint64)

	require.NoError(t, SwitchTo(Nano))
	BeginTx(t1)
	require.EqualValues(t, 0, t1.Read(t1, wordAddr(x), memword.FullMask))

	// t2 commits a write to x behind t1's back
	BeginTx(t2)
	t2.Write(t2, wordAddr(x), 5, memword.FullMask)
	t2.Commit(t2)

	// t1's next read re-validates the whole orec log and must abort
	sig := catchAbort(func() { t1.Read(t1, wordAddr(y), memword.FullMask) })
	require.NotNil(t, sig, "stale read set survived validation")
	require.Equal(t, txthread.AbortConflict, sig.Reason)
	cleanupAbort(t1, sig)
}

func TestNanoPartialMaskRAW(t *testing.T) {
	tx := newTestThread(t)
	x := new(uint64)
	*x = 0x1111111111111111
	addr := wordAddr(x)

	beginOn(t, tx, Nano)

	// buffer only the low byte, then read the full word: buffered byte
	// overlays the memory contents
	tx.Write(tx, addr, 0xAA, 0xFF)
	got := tx.Read(tx, addr, memword.FullMask)
	require.EqualValues(t, 0x11111111111111AA, got)

	tx.Commit(tx)
	require.EqualValues(t, 0x11111111111111AA, *x)
}

func TestNanoAbortedCommitReleasesLocks(t *testing.T) {
	t1 := newTestThread(t)
	t2 := newTestThread(t)
	x := new(uint64)
	y := new(uint64)
	oy := meta.OrecFor(wordAddr(y))
	vy := oy.Load()

	require.NoError(t, SwitchTo(Nano))
	BeginTx(t1)
	require.EqualValues(t, 0, t1.Read(t1, wordAddr(x), memword.FullMask))
	t1.Write(t1, wordAddr(y), 9, memword.FullMask)

	BeginTx(t2)
	t2.Write(t2, wordAddr(x), 5, memword.FullMask)
	t2.Commit(t2)

	// t1 acquires y's orec, then fails validation on x
	sig := catchAbort(func() { t1.Commit(t1) })
	require.NotNil(t, sig)
	cleanupAbort(t1, sig)

	require.False(t, meta.IsLocked(oy.Load()), "aborted commit leaked an orec lock")
	require.Equal(t, vy, oy.Load(), "failed commit must not bump the version")
	require.EqualValues(t, 0, *y, "buffered write leaked in spite of the abort")
}

func TestNanoLockedOrecReadTimesOut(t *testing.T) {
	tx := newTestThread(t)
	x := new(uint64)
	addr := wordAddr(x)
	o := meta.OrecFor(addr)

	// park a foreign lock on the orec
	require.True(t, o.TryLock(o.Load(), meta.Fingerprint(63)))
	defer o.ReleaseUnchanged()

	beginOn(t, tx, Nano)
	sig := catchAbort(func() { tx.Read(tx, addr, memword.FullMask) })
	require.NotNil(t, sig, "read under a parked lock did not abort")
	require.Equal(t, txthread.AbortTimeout, sig.Reason)
	cleanupAbort(tx, sig)
}

func TestNanoIrrevocUnsupported(t *testing.T) {
	tx := newTestThread(t)
	beginOn(t, tx, Nano)
	require.False(t, IrrevocTx(tx))
	tx.Commit(tx)
}

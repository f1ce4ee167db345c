package algs

import (
	"github.com/kolkov/txmem/internal/tm/memword"
	"github.com/kolkov/txmem/internal/tm/meta"
	"github.com/kolkov/txmem/internal/tm/scope"
	"github.com/kolkov/txmem/internal/tm/txthread"
)

// Nano: an optimistic, orec-based variant with value-based validation
// and lazy everything, readers never lock, writers buffer into the
// redo log and acquire orecs only at commit.
//
// It accepts quadratic validation overhead (every read re-validates the
// whole orec log) in exchange for having no global timestamp at all, so
// it carries no bottleneck on multi-chip machines and stays cheap for
// small transactions.

func init() {
	registry[Nano] = Algorithm{
		Name:              "nano",
		Begin:             nanoBegin,
		ReadRO:            nanoReadRO,
		ReadRW:            nanoReadRW,
		WriteRO:           nanoWriteRO,
		WriteRW:           nanoWriteRW,
		CommitRO:          nanoCommitRO,
		CommitRW:          nanoCommitRW,
		Rollback:          nanoRollback,
		Irrevoc:           nanoIrrevoc,
		OnSwitchTo:        nanoOnSwitchTo,
		PrivatizationSafe: false,
	}
}

func nanoBegin(*txthread.Thread) bool {
	return false
}

// nanoReadRO is the read-only-context load: double-read the orec around
// the data load, log the observation, then re-validate the entire orec
// log. Any logged orec that moved since its observation means the read
// set is no longer a consistent snapshot.
func nanoReadRO(tx *txthread.Thread, addr uintptr, _ uint64) uint64 {
	o := meta.OrecFor(addr)

	tries := uint32(0)
	for {
		// snapshot the orec, read the location, snapshot again; the
		// atomic loads order the three accesses
		ivt := o.Load()
		tmp := memword.Load(addr)
		ivt2 := o.Load()

		// common case: stable and unlocked
		if ivt == ivt2 && !meta.IsLocked(ivt) {
			tx.Nanorecs.Insert(o, ivt2)
			// validate the whole read set, then return the value we
			// just read
			for _, e := range tx.Nanorecs.Entries() {
				if e.O.Load() != e.V {
					tx.Abort()
				}
			}
			return tmp
		}

		// lock held or version moved underneath us: bounded retry
		tries++
		if tries > readTimeout {
			tx.AbortTimeout()
		}
		if meta.IsLocked(ivt2) {
			spin()
		}
	}
}

// nanoReadRW first checks the redo log for a read-after-write hit. A
// mask-complete hit is served from the buffer; a partial hit overlays
// the buffered bytes onto the word read from memory.
func nanoReadRW(tx *txthread.Thread, addr uintptr, mask uint64) uint64 {
	bval, bmask, found := tx.Writes.Find(addr)
	if found && mask&^bmask == 0 {
		return bval
	}

	val := nanoReadRO(tx, addr, mask)
	if found {
		val = memword.Merge(val, bval, bmask)
	}
	return val
}

func nanoWriteRO(tx *txthread.Thread, addr uintptr, val, mask uint64) {
	tx.Writes.Insert(addr, val, mask)
	onFirstWrite(tx, &registry[Nano])
}

func nanoWriteRW(tx *txthread.Thread, addr uintptr, val, mask uint64) {
	tx.Writes.Insert(addr, val, mask)
}

func nanoCommitRO(tx *txthread.Thread) {
	// read-only: drop the orec log and we are done
	tx.Nanorecs.Reset()
	onReadOnlyCommit(tx, &registry[Nano])
}

// nanoCommitRW commits a writing transaction: acquire every orec
// covering the write set, validate the orec log under the locks, write
// the redo log back, then release with a version bump.
func nanoCommitRW(tx *txthread.Thread) {
	// acquire locks
	for _, e := range tx.Writes.Entries() {
		o := meta.OrecFor(e.Addr)
		ivt := o.Load()

		if ivt == tx.MyLock {
			continue // already ours via an earlier entry
		}
		if meta.IsLocked(ivt) {
			tx.Abort()
		}
		if !o.TryLock(ivt, tx.MyLock) {
			tx.Abort()
		}
		tx.Locks.Insert(o)
	}

	// validate while holding the locks: an observation is still good if
	// the orec is unchanged, or if we locked it ourselves after
	// observing exactly the version it displaced
	for _, e := range tx.Nanorecs.Entries() {
		ivt := e.O.Load()
		if ivt != e.V && (ivt != tx.MyLock || e.V != e.O.Prev()) {
			tx.Abort()
		}
	}

	// run the redo log
	tx.Writes.Writeback()

	// release, bumping each version past its pre-lock value
	for _, o := range tx.Locks.Entries() {
		o.Unlock()
	}

	tx.Nanorecs.Reset()
	tx.Writes.Reset()
	tx.Locks.Reset()
	onReadWriteCommit(tx, &registry[Nano])
}

// nanoRollback releases any orecs acquired during a failed commit
// (restoring their pre-lock versions, nothing was written under them
// unless writeback completed, and a completed writeback never rolls
// back), publishes the thrown-range bytes of the redo log, and resets
// the logs.
func nanoRollback(tx *txthread.Thread, thrown scope.ThrownObject, reason txthread.AbortReason) {
	// writes to the thrown object are defined to survive the rollback
	tx.Writes.WritebackRange(thrown.Addr, thrown.Len)

	for _, o := range tx.Locks.Entries() {
		o.ReleaseUnchanged()
	}

	tx.Nanorecs.Reset()
	tx.Writes.Reset()
	tx.Locks.Reset()
	postRollback(tx, &registry[Nano], reason)
}

func nanoIrrevoc(*txthread.Thread) bool {
	return false
}

// nanoOnSwitchTo: the variant keeps no global state beyond the orec
// table, whose versions remain valid across a quiescent switch.
func nanoOnSwitchTo() {}

package algs

import (
	"github.com/kolkov/txmem/internal/tm/memword"
	"github.com/kolkov/txmem/internal/tm/meta"
	"github.com/kolkov/txmem/internal/tm/scope"
	"github.com/kolkov/txmem/internal/tm/txthread"
)

// ByteEager: a pessimistic variant in the TLRW style. Readers and
// writers acquire bytelocks eagerly, updates go in place with an undo
// log, and every wait is a bounded spin that turns into an abort, so
// deadlock is impossible by construction.
//
// The bytelocks are versioned: every successful ownership acquisition
// bumps the lock's version, and a reader records the version it joined
// at. A reader that stalled out of its byte during a writer's tenure
// detects the intervening writer by the version mismatch; that check is
// what makes the variant privatization safe.

func init() {
	registry[ByteEager] = Algorithm{
		Name:              "byteeager",
		Begin:             byteEagerBegin,
		ReadRO:            byteEagerReadRO,
		ReadRW:            byteEagerReadRW,
		WriteRO:           byteEagerWriteRO,
		WriteRW:           byteEagerWriteRW,
		CommitRO:          byteEagerCommitRO,
		CommitRW:          byteEagerCommitRW,
		ReadReserve:       byteEagerReadReserve,
		WriteReserve:      byteEagerWriteReserve,
		Release:           byteEagerRelease,
		Rollback:          byteEagerRollback,
		Irrevoc:           byteEagerIrrevoc,
		OnSwitchTo:        byteEagerOnSwitchTo,
		PrivatizationSafe: true,
	}
}

func byteEagerBegin(*txthread.Thread) bool {
	return false
}

// byteEagerRead acquires (or re-confirms) a read reservation on the
// bytelock guarding addr and returns the word. Shared by both read
// barriers; the writing-context barrier additionally short-circuits on
// write ownership.
func byteEagerRead(tx *txthread.Thread, lock *meta.ByteLock, addr uintptr) uint64 {
	// do I already hold a read reservation?
	if lock.HasReadByte(tx.Slot) {
		return memword.Load(addr)
	}

	// log this location if new
	if lock.ReaderVersion(tx.Slot) == 0 {
		tx.RByteLocks.Insert(lock)
	}

	tries := uint32(0)
	for {
		// mark my reader byte
		lock.SetReadByte(tx.Slot)

		// if nobody holds the write lock, we're in
		if lock.Owner() == 0 {
			if rv := lock.ReaderVersion(tx.Slot); rv == 0 {
				// first read: record the version we joined at
				lock.SetReaderVersion(tx.Slot, lock.Version())
			} else if rv != lock.Version() {
				// a writer ran while we were stalled out of our byte
				tx.Abort()
			}
			return memword.Load(addr)
		}

		// drop the reservation and wait out the owner, with timeout
		lock.ClearReadByte(tx.Slot)
		for lock.Owner() != 0 {
			tries++
			if tries > readTimeout {
				tx.AbortTimeout()
			}
		}
	}
}

func byteEagerReadRO(tx *txthread.Thread, addr uintptr, _ uint64) uint64 {
	return byteEagerRead(tx, meta.ByteLockFor(addr), addr)
}

func byteEagerReadRW(tx *txthread.Thread, addr uintptr, _ uint64) uint64 {
	lock := meta.ByteLockFor(addr)

	// do I hold the write lock?
	if lock.Owner() == tx.ID {
		return memword.Load(addr)
	}
	return byteEagerRead(tx, lock, addr)
}

// byteEagerAcquire takes write ownership of lock: CAS the owner in with
// a bounded spin, drop our own read byte, check the version against any
// prior read reservation, drain the other readers eight bytes at a
// time, and bump the version.
func byteEagerAcquire(tx *txthread.Thread, lock *meta.ByteLock) {
	tries := uint32(0)
	for !lock.TryAcquire(tx.ID) {
		tries++
		if tries > acquireTimeout {
			tx.AbortTimeout()
		}
	}

	// log the lock, drop any read reservation byte I hold
	tx.WByteLocks.Insert(lock)
	lock.ClearReadByte(tx.Slot)

	// if we read this location earlier, a version change means some
	// writer came between that read and this acquire
	if rv := lock.ReaderVersion(tx.Slot); rv != 0 && rv != lock.Version() {
		tx.Abort()
	}

	// wait for the remaining readers to drain
	for w := 0; w < meta.ReaderWordCount; w++ {
		tries = 0
		for lock.ReaderWord(w) != 0 {
			tries++
			if tries > drainTimeout {
				tx.AbortTimeout()
			}
		}
	}

	// one bump per successful ownership
	lock.BumpVersion()
}

func byteEagerWriteRO(tx *txthread.Thread, addr uintptr, val, mask uint64) {
	byteEagerAcquire(tx, meta.ByteLockFor(addr))

	// record the old value, then update in place
	tx.Undo.Insert(addr, memword.Load(addr), mask)
	memword.StoreMasked(addr, val, mask)

	onFirstWrite(tx, &registry[ByteEager])
}

func byteEagerWriteRW(tx *txthread.Thread, addr uintptr, val, mask uint64) {
	lock := meta.ByteLockFor(addr)

	// already the owner: log and write
	if lock.Owner() == tx.ID {
		tx.Undo.Insert(addr, memword.Load(addr), mask)
		memword.StoreMasked(addr, val, mask)
		return
	}

	byteEagerAcquire(tx, lock)
	tx.Undo.Insert(addr, memword.Load(addr), mask)
	memword.StoreMasked(addr, val, mask)
}

func byteEagerCommitRO(tx *txthread.Thread) {
	// read-only: release the read reservations
	for _, lock := range tx.RByteLocks.Entries() {
		lock.ClearReadByte(tx.Slot)
		lock.SetReaderVersion(tx.Slot, 0)
	}

	tx.RByteLocks.Reset()
	onReadOnlyCommit(tx, &registry[ByteEager])
}

func byteEagerCommitRW(tx *txthread.Thread) {
	// release write locks, then read reservations; the locks enforced
	// isolation all along, so there is nothing to validate
	for _, lock := range tx.WByteLocks.Entries() {
		lock.ReleaseOwner()
	}
	for _, lock := range tx.RByteLocks.Entries() {
		lock.ClearReadByte(tx.Slot)
		lock.SetReaderVersion(tx.Slot, 0)
	}

	tx.RByteLocks.Reset()
	tx.WByteLocks.Reset()
	tx.Undo.Reset()
	onReadWriteCommit(tx, &registry[ByteEager])
}

// byteEagerRollback undoes the in-place damage (sparing the thrown
// range), releases every lock, and applies randomized exponential
// backoff before the restart.
func byteEagerRollback(tx *txthread.Thread, thrown scope.ThrownObject, reason txthread.AbortReason) {
	tx.Undo.Undo(thrown.Addr, thrown.Len)

	for _, lock := range tx.WByteLocks.Entries() {
		lock.ReleaseOwner()
	}
	for _, lock := range tx.RByteLocks.Entries() {
		lock.ClearReadByte(tx.Slot)
		lock.SetReaderVersion(tx.Slot, 0)
	}

	tx.RByteLocks.Reset()
	tx.WByteLocks.Reset()
	tx.Undo.Reset()

	postRollback(tx, &registry[ByteEager], reason)
	tx.Backoff(backoffCeiling)
}

// byteEagerReadReserve pins a read reservation without transferring the
// data: the lock protocol is identical to a read, only the value is
// dropped.
func byteEagerReadReserve(tx *txthread.Thread, addr uintptr) {
	lock := meta.ByteLockFor(addr)
	if lock.Owner() == tx.ID {
		return
	}
	byteEagerRead(tx, lock, addr)
}

// byteEagerWriteReserve takes write ownership and logs the current
// contents so a later in-place store (transactional or not, once
// privatized) can be undone.
func byteEagerWriteReserve(tx *txthread.Thread, addr uintptr) {
	lock := meta.ByteLockFor(addr)

	if lock.Owner() == tx.ID {
		tx.Undo.Insert(addr, memword.Load(addr), memword.FullMask)
		return
	}

	byteEagerAcquire(tx, lock)
	tx.Undo.Insert(addr, memword.Load(addr), memword.FullMask)

	if len(tx.WByteLocks.Entries()) == 1 {
		onFirstWrite(tx, &registry[ByteEager])
	}
}

// byteEagerRelease drops a read reservation early. A write reservation
// cannot be released before commit.
func byteEagerRelease(tx *txthread.Thread, addr uintptr) {
	lock := meta.ByteLockFor(addr)
	if lock.Owner() != tx.ID {
		lock.ClearReadByte(tx.Slot)
	}
}

func byteEagerIrrevoc(*txthread.Thread) bool {
	return false
}

func byteEagerOnSwitchTo() {}

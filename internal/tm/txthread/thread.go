// Package txthread implements the per-thread transaction descriptor and
// the process-wide thread table.
//
// Each participating thread owns exactly one descriptor holding every
// piece of per-transaction state: the write set, undo log, orec log,
// bytelock lists, the scope stack, the barrier dispatch slots, and the
// commit/abort counters. No foreign thread ever touches a descriptor;
// the only cross-thread field is the in-flight flag the algorithm
// switcher polls for quiescence.
package txthread

import (
	"sync/atomic"

	"github.com/kolkov/txmem/internal/tm/meta"
	"github.com/kolkov/txmem/internal/tm/scope"
	"github.com/kolkov/txmem/internal/tm/txlog"
)

// Barrier signatures. The descriptor caches its current algorithm's
// barriers in plain func-typed slots; state transitions (first write,
// commit, rollback) rewrite the slots so the fast path never branches on
// transaction state.
type (
	// ReadBarrier performs a transactional load of the word at addr,
	// restricted to the live bytes of mask.
	ReadBarrier func(tx *Thread, addr uintptr, mask uint64) uint64

	// WriteBarrier performs a transactional store of the live bytes of
	// val into the word at addr.
	WriteBarrier func(tx *Thread, addr uintptr, val, mask uint64)

	// CommitBarrier ends the transaction; it may abort.
	CommitBarrier func(tx *Thread)
)

// Thread is the per-thread transaction descriptor.
type Thread struct {
	// ID is the unique 1-based thread id; it indexes bytelock reader
	// slots (as ID-1) and composes the orec lock fingerprint.
	ID uint32

	// Slot is ID-1, cached for the bytelock reader-byte operations.
	Slot uint32

	// MyLock is the orec word this thread installs when it acquires an
	// ownership record.
	MyLock uint64

	// Per-transaction logs. All exclusively owned by this thread.
	Writes     *txlog.WriteSet
	Undo       *txlog.UndoLog
	Nanorecs   *txlog.OrecLog
	Locks      *txlog.OrecList
	RByteLocks *txlog.ByteLockList
	WByteLocks *txlog.ByteLockList

	// Barrier dispatch slots, installed at begin and swapped on first
	// write.
	Read   ReadBarrier
	Write  WriteBarrier
	Commit CommitBarrier

	// AlgID is the registry index of the algorithm this transaction is
	// running under, cached at begin.
	AlgID int32

	// InFlight is true between begin and commit/rollback. The algorithm
	// switcher polls it to reach quiescence, and Unregister checks it.
	InFlight atomic.Bool

	// scope stack and frame pool
	scopes    []*scope.Scope
	scopePool []*scope.Scope
	nextScope uint64

	// statistics
	CommitsRO    uint64
	CommitsRW    uint64
	Aborts       uint64
	ConsecAborts uint32

	// xorshift state for randomized backoff, seeded from the id.
	rng uint64
}

func newThread(id uint32) *Thread {
	return &Thread{
		ID:         id,
		Slot:       id - 1,
		MyLock:     meta.Fingerprint(id),
		Writes:     txlog.NewWriteSet(),
		Undo:       txlog.NewUndoLog(),
		Nanorecs:   txlog.NewOrecLog(),
		Locks:      txlog.NewOrecList(),
		RByteLocks: txlog.NewByteLockList(),
		WByteLocks: txlog.NewByteLockList(),
		rng:        uint64(id)*0x9E3779B97F4A7C15 | 1,
	}
}

// PushScope enters a new frame and returns it. The outermost frame of a
// transaction is the one pushed at depth zero.
func (tx *Thread) PushScope() *scope.Scope {
	var s *scope.Scope
	if n := len(tx.scopePool); n > 0 {
		s = tx.scopePool[n-1]
		tx.scopePool = tx.scopePool[:n-1]
	} else {
		s = scope.New()
	}
	tx.nextScope++
	s.Enter(tx.nextScope, len(tx.scopes) == 0)
	tx.scopes = append(tx.scopes, s)
	return s
}

// PopScope removes the innermost frame and returns it to the pool.
func (tx *Thread) PopScope() {
	n := len(tx.scopes)
	if n == 0 {
		panic("txmem: unrecoverable: scope stack underflow")
	}
	s := tx.scopes[n-1]
	tx.scopes = tx.scopes[:n-1]
	tx.scopePool = append(tx.scopePool, s)
}

// CurrentScope returns the innermost frame, or nil outside any
// transaction.
//
//go:nosplit
func (tx *Thread) CurrentScope() *scope.Scope {
	if n := len(tx.scopes); n > 0 {
		return tx.scopes[n-1]
	}
	return nil
}

// CurrentScopeParent returns the frame enclosing the innermost one, or
// nil when the innermost frame is outermost.
//
//go:nosplit
func (tx *Thread) CurrentScopeParent() *scope.Scope {
	if n := len(tx.scopes); n > 1 {
		return tx.scopes[n-2]
	}
	return nil
}

// OuterScope returns the outermost frame, or nil outside any
// transaction.
//
//go:nosplit
func (tx *Thread) OuterScope() *scope.Scope {
	if len(tx.scopes) > 0 {
		return tx.scopes[0]
	}
	return nil
}

// Depth returns the current nesting depth.
//
//go:nosplit
func (tx *Thread) Depth() int {
	return len(tx.scopes)
}

// UnwindScopes rolls back every frame inner-to-outer and empties the
// stack. The innermost registered thrown range, the one the cancelling
// frame declared, is returned for the boundary to surface.
func (tx *Thread) UnwindScopes() scope.ThrownObject {
	var thrown scope.ThrownObject
	for n := len(tx.scopes); n > 0; n = len(tx.scopes) {
		t := tx.scopes[n-1].Rollback()
		if thrown.Len == 0 && t.Len != 0 {
			thrown = t
		}
		tx.PopScope()
	}
	return thrown
}

// ThrownRange returns the innermost registered thrown range across the
// live frames, or a zero range.
func (tx *Thread) ThrownRange() scope.ThrownObject {
	for i := len(tx.scopes) - 1; i >= 0; i-- {
		if t := tx.scopes[i].Thrown(); t.Len != 0 {
			return t
		}
	}
	return scope.ThrownObject{}
}

// ClearThrownObjects drops the thrown range of every live frame. The
// boundary uses this on conflict and timeout aborts: the thrown object
// pertains only to explicit cancellation, and leaving it registered
// would wrongly filter the rollback.
func (tx *Thread) ClearThrownObjects() {
	for _, s := range tx.scopes {
		s.ClearThrownObject()
	}
}

// NextRand steps the thread-local xorshift generator.
//
//go:nosplit
func (tx *Thread) NextRand() uint64 {
	x := tx.rng
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	tx.rng = x
	return x
}

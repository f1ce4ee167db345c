package txlog

import "github.com/kolkov/txmem/internal/tm/memword"

// UndoEntry records the pre-store contents of a word written in place:
// the target word, the old value, and the mask of bytes the store
// touched.
type UndoEntry struct {
	Addr uintptr
	Val  uint64
	Mask uint64
}

// UndoLog is the append-only old-value log for in-place algorithms.
// Undo replays it LIFO so that overlapping stores to one word unwind in
// the right order.
type UndoLog struct {
	entries []UndoEntry
}

// NewUndoLog builds an empty undo log.
func NewUndoLog() *UndoLog {
	return &UndoLog{entries: make([]UndoEntry, 0, 64)}
}

// Insert appends a pre-store record.
//
//go:nosplit
func (ul *UndoLog) Insert(addr uintptr, val, mask uint64) {
	ul.entries = append(ul.entries, UndoEntry{Addr: addr, Val: val, Mask: mask})
}

// Size returns the number of recorded stores.
//
//go:nosplit
func (ul *UndoLog) Size() int {
	return len(ul.entries)
}

// Undo restores every logged word LIFO. A non-empty thrown range
// [base, base+length) is excluded: bytes of a logged word inside the
// range are filtered out of its mask before the restore, and an entry
// whose live bytes all fall inside the range is skipped entirely.
func (ul *UndoLog) Undo(base, length uintptr) {
	if length == 0 {
		for i := len(ul.entries) - 1; i >= 0; i-- {
			e := &ul.entries[i]
			memword.StoreMasked(e.Addr, e.Val, e.Mask)
		}
		return
	}

	upper := base + length
	for i := len(ul.entries) - 1; i >= 0; i-- {
		e := &ul.entries[i]
		m := e.Mask &^ rangeMask(e.Addr, base, upper)
		if m == 0 {
			continue
		}
		memword.StoreMasked(e.Addr, e.Val, m)
	}
}

// Reset clears the log, keeping its backing storage.
//
//go:nosplit
func (ul *UndoLog) Reset() {
	ul.entries = ul.entries[:0]
}

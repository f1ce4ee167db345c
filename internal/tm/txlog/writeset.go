// Package txlog implements the per-transaction logs: the hash-indexed
// write set (redo log), the undo log for in-place algorithms, the orec
// log, and the bytelock lists.
//
// Every structure here is exclusively owned by one thread's descriptor;
// no log is ever touched by a foreign thread, so nothing in this package
// needs synchronization.
package txlog

import "github.com/kolkov/txmem/internal/tm/memword"

// WriteSetEntry is one buffered store: the target word, the buffered
// value, and the mask of live bytes.
type WriteSetEntry struct {
	Addr uintptr
	Val  uint64
	Mask uint64
}

// writeIndexEntry is one slot of the write set's open-addressed index.
// A slot is live only when its version matches the set's current
// version; bumping the version on reset invalidates the whole index in
// O(1).
type writeIndexEntry struct {
	version uint64
	addr    uintptr
	idx     int
}

// WriteSet is a hash-indexed, append-only redo log.
//
// The entry list preserves insertion order (writeback order is defined
// to be insertion order); the index accelerates read-after-write lookup
// and insert coalescing. The index is kept at least 3x the entry
// capacity so probe chains stay short; crossing that load factor
// triggers an index rebuild, and filling the entry list doubles its
// capacity.
type WriteSet struct {
	index   []writeIndexEntry
	shift   uint // 64 - log2(len(index))
	version uint64
	list    []WriteSetEntry
}

const writeSetInitialCapacity = 64

// NewWriteSet builds a write set with the default initial capacity.
func NewWriteSet() *WriteSet {
	ws := &WriteSet{
		shift:   64,
		version: 1,
		list:    make([]WriteSetEntry, 0, writeSetInitialCapacity),
	}
	// Find an index length covering 3x the initial capacity.
	ilength := 0
	for ilength < 3*writeSetInitialCapacity {
		ws.shift--
		ilength = 1 << (64 - ws.shift)
	}
	ws.index = make([]writeIndexEntry, ilength)
	return ws
}

// hash maps a word address into the current index.
//
//go:nosplit
func (ws *WriteSet) hash(addr uintptr) int {
	const goldenRatio = 0x9E3779B97F4A7C15
	return int((uint64(addr>>3) * goldenRatio) >> ws.shift)
}

// Size returns the number of buffered entries.
//
//go:nosplit
func (ws *WriteSet) Size() int {
	return len(ws.list)
}

// Entries exposes the entry list in insertion order. Callers must not
// retain the slice across Reset.
//
//go:nosplit
func (ws *WriteSet) Entries() []WriteSetEntry {
	return ws.list
}

// Insert buffers a masked store, coalescing with any earlier store to
// the same word: the new bytes win, the masks union.
func (ws *WriteSet) Insert(addr uintptr, val, mask uint64) {
	h := ws.hash(addr)
	for ws.index[h].version == ws.version {
		if ws.index[h].addr == addr {
			e := &ws.list[ws.index[h].idx]
			e.Val = memword.Merge(e.Val, val, mask)
			e.Mask |= mask
			return
		}
		h = (h + 1) & (len(ws.index) - 1)
	}

	// Not found: append and index the new entry.
	if len(ws.list) == cap(ws.list) {
		ws.resize()
		// the rebuild rehashed everything; re-probe for a free slot
		h = ws.hash(addr)
		for ws.index[h].version == ws.version {
			h = (h + 1) & (len(ws.index) - 1)
		}
	}
	ws.list = append(ws.list, WriteSetEntry{Addr: addr, Val: val, Mask: mask})
	ws.index[h] = writeIndexEntry{version: ws.version, addr: addr, idx: len(ws.list) - 1}
}

// Find looks up a buffered store to addr. It returns the buffered value
// and mask, or found=false on a miss.
//
//go:nosplit
func (ws *WriteSet) Find(addr uintptr) (val, mask uint64, found bool) {
	h := ws.hash(addr)
	for ws.index[h].version == ws.version {
		if ws.index[h].addr == addr {
			e := &ws.list[ws.index[h].idx]
			return e.Val, e.Mask, true
		}
		h = (h + 1) & (len(ws.index) - 1)
	}
	return 0, 0, false
}

// resize doubles the entry capacity, then rebuilds the index if the new
// capacity would push the index load factor past 3x.
func (ws *WriteSet) resize() {
	grown := make([]WriteSetEntry, len(ws.list), 2*cap(ws.list))
	copy(grown, ws.list)
	ws.list = grown
	if 3*cap(ws.list) > len(ws.index) {
		ws.rebuild()
	}
}

// rebuild doubles the index and reinserts every live entry. Insertion
// order of the entry list is untouched; only the probe structure
// changes.
func (ws *WriteSet) rebuild() {
	ws.shift--
	ws.index = make([]writeIndexEntry, 1<<(64-ws.shift))
	for i := range ws.list {
		h := ws.hash(ws.list[i].Addr)
		for ws.index[h].version == ws.version {
			h = (h + 1) & (len(ws.index) - 1)
		}
		ws.index[h] = writeIndexEntry{version: ws.version, addr: ws.list[i].Addr, idx: i}
	}
}

// Writeback applies every buffered store to memory in insertion order.
// The caller must hold every orec covering the written words.
func (ws *WriteSet) Writeback() {
	for i := range ws.list {
		e := &ws.list[i]
		memword.StoreMasked(e.Addr, e.Val, e.Mask)
	}
}

// WritebackRange applies only the bytes of buffered stores that fall
// inside [base, base+length). This is the abort path's treatment of a
// thrown object: those bytes are defined to live outside the
// transaction, so a rolled-back transaction still publishes them.
func (ws *WriteSet) WritebackRange(base, length uintptr) {
	if length == 0 {
		return
	}
	upper := base + length
	for i := range ws.list {
		e := &ws.list[i]
		m := e.Mask & rangeMask(e.Addr, base, upper)
		if m != 0 {
			memword.StoreMasked(e.Addr, e.Val, m)
		}
	}
}

// Reset logically clears the set. The entry list is truncated in place
// and the index is invalidated by bumping the version, so reset is O(1)
// amortized regardless of how much was buffered.
func (ws *WriteSet) Reset() {
	ws.list = ws.list[:0]
	ws.version++
}

// rangeMask returns the mask of bytes of the word at addr that fall
// inside [lower, upper).
//
//go:nosplit
func rangeMask(addr, lower, upper uintptr) uint64 {
	var m uint64
	for b := uintptr(0); b < memword.WordSize; b++ {
		if addr+b >= lower && addr+b < upper {
			m |= uint64(0xFF) << (8 * b)
		}
	}
	return m
}

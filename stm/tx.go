package stm

import (
	"unsafe"

	"github.com/kolkov/txmem/internal/tm/algs"
	"github.com/kolkov/txmem/internal/tm/memword"
	"github.com/kolkov/txmem/internal/tm/txthread"
)

// Tx is the in-transaction handle passed to Atomic bodies. It is valid
// only inside the body that received it and only on the owning thread.
//
// All accessors ultimately dispatch through the descriptor's barrier
// slots, so they follow whatever algorithm the transaction began under.
// Shared words must be 8-byte aligned (Go aligns uint64 variables and
// struct fields; misaligned raw pointers are a caller bug).
//
// Sub-word accessors operate on the enclosing word with a byte mask.
// BE WARNED: as with any word-granular STM, writing one byte of a word
// transactionally while a neighboring byte of the same word is written
// non-transactionally can lose the non-transactional update.
type Tx struct {
	d *txthread.Thread
}

// wordAddr checks alignment and converts.
//
//go:nosplit
func wordAddr(p *uint64) uintptr {
	addr := uintptr(unsafe.Pointer(p))
	if addr&(memword.WordSize-1) != 0 {
		panic("stm: unaligned word address")
	}
	return addr
}

// Load transactionally reads a word.
func (tx *Tx) Load(p *uint64) uint64 {
	return tx.d.Read(tx.d, wordAddr(p), memword.FullMask)
}

// Store transactionally writes a word.
func (tx *Tx) Store(p *uint64, val uint64) {
	tx.d.Write(tx.d, wordAddr(p), val, memword.FullMask)
}

// LoadMasked reads a word restricted to the live bytes of mask; dead
// bytes of the result are unspecified.
func (tx *Tx) LoadMasked(p *uint64, mask uint64) uint64 {
	return tx.d.Read(tx.d, wordAddr(p), mask)
}

// StoreMasked writes only the live bytes of mask.
func (tx *Tx) StoreMasked(p *uint64, val, mask uint64) {
	tx.d.Write(tx.d, wordAddr(p), val, mask)
}

// LoadUint32 reads a 4-byte value through its enclosing word.
func (tx *Tx) LoadUint32(p *uint32) uint32 {
	addr := uintptr(unsafe.Pointer(p))
	base, off := memword.Align(addr)
	w := tx.d.Read(tx.d, base, memword.ByteMask(off, 4))
	return uint32(w >> (8 * off))
}

// StoreUint32 writes a 4-byte value through its enclosing word.
func (tx *Tx) StoreUint32(p *uint32, val uint32) {
	addr := uintptr(unsafe.Pointer(p))
	base, off := memword.Align(addr)
	tx.d.Write(tx.d, base, uint64(val)<<(8*off), memword.ByteMask(off, 4))
}

// LoadUint8 reads one byte through its enclosing word.
func (tx *Tx) LoadUint8(p *uint8) uint8 {
	addr := uintptr(unsafe.Pointer(p))
	base, off := memword.Align(addr)
	w := tx.d.Read(tx.d, base, memword.ByteMask(off, 1))
	return uint8(w >> (8 * off))
}

// StoreUint8 writes one byte through its enclosing word.
func (tx *Tx) StoreUint8(p *uint8, val uint8) {
	addr := uintptr(unsafe.Pointer(p))
	base, off := memword.Align(addr)
	tx.d.Write(tx.d, base, uint64(val)<<(8*off), memword.ByteMask(off, 1))
}

// LoadBytes transactionally reads len(dst) bytes starting at ptr,
// chunking the range into masked word accesses.
func (tx *Tx) LoadBytes(ptr unsafe.Pointer, dst []byte) {
	addr := uintptr(ptr)
	for i := 0; i < len(dst); {
		base, off := memword.Align(addr + uintptr(i))
		n := memword.WordSize - off
		if rem := uintptr(len(dst) - i); rem < n {
			n = rem
		}
		w := tx.d.Read(tx.d, base, memword.ByteMask(off, n))
		for b := uintptr(0); b < n; b++ {
			dst[i+int(b)] = byte(w >> (8 * (off + b)))
		}
		i += int(n)
	}
}

// StoreBytes transactionally writes src starting at ptr, chunking the
// range into masked word accesses.
func (tx *Tx) StoreBytes(ptr unsafe.Pointer, src []byte) {
	addr := uintptr(ptr)
	for i := 0; i < len(src); {
		base, off := memword.Align(addr + uintptr(i))
		n := memword.WordSize - off
		if rem := uintptr(len(src) - i); rem < n {
			n = rem
		}
		var w uint64
		for b := uintptr(0); b < n; b++ {
			w |= uint64(src[i+int(b)]) << (8 * (off + b))
		}
		tx.d.Write(tx.d, base, w, memword.ByteMask(off, n))
		i += int(n)
	}
}

// ReadReserve pins a read reservation on the word without transferring
// its value. Under an optimistic algorithm this degrades to a plain
// logged read.
func (tx *Tx) ReadReserve(p *uint64) {
	addr := wordAddr(p)
	if rr := algs.Get(tx.d.AlgID).ReadReserve; rr != nil {
		rr(tx.d, addr)
		return
	}
	tx.d.Read(tx.d, addr, memword.FullMask)
}

// WriteReserve takes write ownership of the word ahead of a store.
// Under an optimistic algorithm this degrades to a plain logged read;
// ownership is only taken at commit.
func (tx *Tx) WriteReserve(p *uint64) {
	addr := wordAddr(p)
	if wr := algs.Get(tx.d.AlgID).WriteReserve; wr != nil {
		wr(tx.d, addr)
		return
	}
	tx.d.Read(tx.d, addr, memword.FullMask)
}

// Release drops a read reservation early, when the algorithm supports
// it. Releasing a word the transaction later depends on forfeits
// conflict detection for it.
func (tx *Tx) Release(p *uint64) {
	addr := wordAddr(p)
	if rel := algs.Get(tx.d.AlgID).Release; rel != nil {
		rel(tx.d, addr)
	}
}

// Log records len bytes starting at ptr into the current scope, to be
// restored if the transaction rolls back. This is for stack locals and
// other data outside the transactional load/store discipline.
func (tx *Tx) Log(ptr unsafe.Pointer, length uintptr) {
	sc := tx.d.CurrentScope()
	addr := uintptr(ptr)

	// log as many whole words as we can, then the remainder
	for length >= memword.WordSize {
		sc.LogWord(addr, *(*uint64)(unsafe.Pointer(addr)), memword.WordSize)
		addr += memword.WordSize
		length -= memword.WordSize
	}
	if length > 0 {
		var w uint64
		for b := uintptr(0); b < length; b++ {
			w |= uint64(*(*byte)(unsafe.Pointer(addr + b))) << (8 * b)
		}
		sc.LogWord(addr, w, length)
	}
}

// OnCommit registers fn to run, FIFO, when the outermost scope commits.
func (tx *Tx) OnCommit(fn func()) {
	tx.d.CurrentScope().OnCommit(fn)
}

// OnAbort registers fn to run, FIFO, if the current scope rolls back.
func (tx *Tx) OnAbort(fn func()) {
	tx.d.CurrentScope().OnRollback(fn)
}

// SetThrownObject declares [ptr, ptr+len) as the protected range that
// survives rollback on cancellation. One thrown object per scope.
func (tx *Tx) SetThrownObject(ptr unsafe.Pointer, length uintptr) {
	tx.d.CurrentScope().SetThrownObject(uintptr(ptr), length)
}

// ClearThrownObject removes the protected range.
func (tx *Tx) ClearThrownObject() {
	tx.d.CurrentScope().ClearThrownObject()
}

// Cancel aborts the transaction immediately. Atomic returns a
// CancelledError carrying the thrown range; the thrown bytes are
// exempted from rollback.
func (tx *Tx) Cancel() {
	tx.d.Cancel()
}

// Irrevocable attempts to switch the running transaction to irrevocable
// mode.
func (tx *Tx) Irrevocable() error {
	if !algs.IrrevocTx(tx.d) {
		return ErrIrrevocableUnsupported
	}
	return nil
}

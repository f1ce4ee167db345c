package txlog

import (
	"testing"

	"github.com/kolkov/txmem/internal/tm/memword"
)

func TestUndoLIFO(t *testing.T) {
	ul := NewUndoLog()
	x := new(uint64)

	// two stores to the same word: undo must land on the oldest value
	ul.Insert(wordAddr(x), 1, memword.FullMask)
	*x = 2
	ul.Insert(wordAddr(x), 2, memword.FullMask)
	*x = 3

	ul.Undo(0, 0)
	if *x != 1 {
		t.Fatalf("after undo x = %d, want pre-transaction 1", *x)
	}
}

func TestUndoMasked(t *testing.T) {
	ul := NewUndoLog()
	x := new(uint64)
	*x = 0x1122334455667788

	// in-place store touched only the high half
	ul.Insert(wordAddr(x), 0x1122334455667788, 0xFFFFFFFF_00000000)
	*x = 0xAAAAAAAA_55667788

	ul.Undo(0, 0)
	if *x != 0x1122334455667788 {
		t.Fatalf("after masked undo x = %#x", *x)
	}
}

func TestUndoThrownRangeFiltering(t *testing.T) {
	ul := NewUndoLog()

	// scenario: thrown range covers words[0] and words[1]; an entry
	// inside the range is skipped, one outside is restored
	words := make([]uint64, 4)
	ul.Insert(wordAddr(&words[0]), 0, memword.FullMask) // inside thrown
	ul.Insert(wordAddr(&words[3]), 0, memword.FullMask) // outside
	words[0] = 111
	words[3] = 333

	ul.Undo(wordAddr(&words[0]), 16)

	if words[0] != 111 {
		t.Fatalf("thrown word rolled back: %d", words[0])
	}
	if words[3] != 0 {
		t.Fatalf("outside word not restored: %d", words[3])
	}
}

func TestUndoPartialThrownOverlap(t *testing.T) {
	ul := NewUndoLog()
	x := new(uint64)

	// whole word logged, but only its high half is thrown: undo
	// restores the low half and leaves the high half alone
	ul.Insert(wordAddr(x), 0, memword.FullMask)
	*x = 0xBBBBBBBB_AAAAAAAA

	ul.Undo(wordAddr(x)+4, 4)

	if *x != 0xBBBBBBBB_00000000 {
		t.Fatalf("partial filter produced %#x, want %#x", *x, uint64(0xBBBBBBBB_00000000))
	}
}

func TestUndoReset(t *testing.T) {
	ul := NewUndoLog()
	x := new(uint64)

	ul.Insert(wordAddr(x), 5, memword.FullMask)
	ul.Reset()
	if ul.Size() != 0 {
		t.Fatalf("size after reset = %d", ul.Size())
	}

	*x = 9
	ul.Undo(0, 0)
	if *x != 9 {
		t.Fatal("reset log still restored a value")
	}
}

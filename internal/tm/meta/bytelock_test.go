package meta

import (
	"sync"
	"testing"
)

func TestByteLockReadBytes(t *testing.T) {
	tests := []struct {
		name string
		slot uint32
	}{
		{name: "slot 0 (word 0, byte 0)", slot: 0},
		{name: "slot 7 (word 0, byte 7)", slot: 7},
		{name: "slot 8 (word 1, byte 0)", slot: 8},
		{name: "slot 63 (word 7, byte 7)", slot: 63},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b ByteLock

			if b.HasReadByte(tt.slot) {
				t.Fatal("fresh lock has reader byte set")
			}
			b.SetReadByte(tt.slot)
			if !b.HasReadByte(tt.slot) {
				t.Fatal("reader byte not set after SetReadByte")
			}

			// exactly one packed word carries exactly one 0xFF byte
			word := int(tt.slot >> 3)
			wantWord := uint64(0xFF) << ((tt.slot & 7) * 8)
			for w := 0; w < ReaderWordCount; w++ {
				want := uint64(0)
				if w == word {
					want = wantWord
				}
				if got := b.ReaderWord(w); got != want {
					t.Errorf("ReaderWord(%d) = %#x, want %#x", w, got, want)
				}
			}

			b.ClearReadByte(tt.slot)
			if b.HasReadByte(tt.slot) {
				t.Fatal("reader byte still set after ClearReadByte")
			}
		})
	}
}

func TestByteLockNeighborSlotsIndependent(t *testing.T) {
	var b ByteLock

	b.SetReadByte(3)
	b.SetReadByte(4)
	b.ClearReadByte(3)

	if b.HasReadByte(3) {
		t.Error("slot 3 still set")
	}
	if !b.HasReadByte(4) {
		t.Error("slot 4 lost its byte when slot 3 cleared")
	}
}

func TestByteLockOwnership(t *testing.T) {
	var b ByteLock

	if got := b.Owner(); got != 0 {
		t.Fatalf("fresh lock owner = %d, want 0", got)
	}
	if !b.TryAcquire(5) {
		t.Fatal("TryAcquire on a free lock failed")
	}
	if got := b.Owner(); got != 5 {
		t.Fatalf("owner = %d, want 5", got)
	}
	if b.TryAcquire(6) {
		t.Fatal("TryAcquire succeeded on an owned lock")
	}
	b.ReleaseOwner()
	if got := b.Owner(); got != 0 {
		t.Fatalf("owner after release = %d, want 0", got)
	}
}

func TestByteLockSingleAcquirer(t *testing.T) {
	var b ByteLock
	const contenders = 8

	var wg sync.WaitGroup
	wins := make([]bool, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			wins[slot] = b.TryAcquire(uint32(slot + 1))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, w := range wins {
		if w {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("%d threads acquired the owner slot, want exactly 1", winners)
	}
}

func TestByteLockVersioning(t *testing.T) {
	var b ByteLock

	if got := b.Version(); got != 0 {
		t.Fatalf("fresh version = %d, want 0", got)
	}
	b.BumpVersion()
	b.BumpVersion()
	if got := b.Version(); got != 2 {
		t.Fatalf("version = %d, want 2", got)
	}

	b.SetReaderVersion(9, 2)
	if got := b.ReaderVersion(9); got != 2 {
		t.Fatalf("ReaderVersion(9) = %d, want 2", got)
	}
	b.SetReaderVersion(9, 0)
	if got := b.ReaderVersion(9); got != 0 {
		t.Fatalf("cleared ReaderVersion(9) = %d, want 0", got)
	}
}

func TestByteLockForSameWord(t *testing.T) {
	x := new(uint64)
	addr := addrOf(x)

	if ByteLockFor(addr) != ByteLockFor(addr) {
		t.Fatal("same address resolved to different bytelocks")
	}
	if ByteLockFor(addr) != ByteLockFor(addr+7) {
		t.Fatal("addresses within one word resolved to different bytelocks")
	}
}

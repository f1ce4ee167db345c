package txthread

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/kolkov/txmem/internal/tm/meta"
)

// The thread table maps slot indexes to live descriptors. Ids are pooled:
// a shut-down thread's id (and with it the bytelock reader slot and the
// orec fingerprint) is reused by the next thread to register. Allocation
// is rare relative to barrier traffic, so a mutex-guarded free stack is
// plenty.
var (
	tableMu sync.Mutex
	table   [meta.MaxThreads]*Thread
	freeIDs []uint32
)

func init() {
	freeIDs = make([]uint32, 0, meta.MaxThreads)
	// Stack the ids so the first registration gets id 1.
	for id := uint32(meta.MaxThreads); id >= 1; id-- {
		freeIDs = append(freeIDs, id)
	}
}

// ErrTooManyThreads is returned when every reader slot is taken.
var ErrTooManyThreads = errors.Errorf("thread table full (max %d live threads)", meta.MaxThreads)

// Register allocates a descriptor with a unique 1-based id.
func Register() (*Thread, error) {
	tableMu.Lock()
	defer tableMu.Unlock()

	n := len(freeIDs)
	if n == 0 {
		return nil, ErrTooManyThreads
	}
	id := freeIDs[n-1]
	freeIDs = freeIDs[:n-1]

	tx := newThread(id)
	table[id-1] = tx
	return tx, nil
}

// Unregister releases a descriptor's id back to the pool. The descriptor
// must not be inside a transaction.
func Unregister(tx *Thread) {
	if tx.InFlight.Load() {
		panic("txmem: unrecoverable: thread shutdown inside a transaction")
	}

	tableMu.Lock()
	defer tableMu.Unlock()

	if table[tx.Slot] != tx {
		return
	}
	table[tx.Slot] = nil
	freeIDs = append(freeIDs, tx.ID)
}

// ForEach calls fn for every registered descriptor. The snapshot is
// taken under the table lock; fn runs outside it.
func ForEach(fn func(*Thread)) {
	tableMu.Lock()
	live := make([]*Thread, 0, meta.MaxThreads)
	for _, tx := range table {
		if tx != nil {
			live = append(live, tx)
		}
	}
	tableMu.Unlock()

	for _, tx := range live {
		fn(tx)
	}
}

// LiveCount returns the number of registered descriptors.
func LiveCount() int {
	tableMu.Lock()
	defer tableMu.Unlock()
	n := 0
	for _, tx := range table {
		if tx != nil {
			n++
		}
	}
	return n
}

package algs

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/kolkov/txmem/internal/tm/config"
	"github.com/kolkov/txmem/internal/tm/scope"
	"github.com/kolkov/txmem/internal/tm/txthread"
)

func init() {
	// small budgets so timeout paths are reachable
	Configure(config.NewTestConfig())
}

func newTestThread(t *testing.T) *txthread.Thread {
	t.Helper()
	tx, err := txthread.Register()
	require.NoError(t, err)
	t.Cleanup(func() { txthread.Unregister(tx) })
	return tx
}

// beginOn switches the runtime to the given algorithm and starts a
// transaction on tx.
func beginOn(t *testing.T, tx *txthread.Thread, id int32) {
	t.Helper()
	require.NoError(t, SwitchTo(id))
	BeginTx(tx)
}

// catchAbort runs fn and converts an abort panic into its signal. A nil
// return means fn completed without aborting.
func catchAbort(fn func()) (sig *txthread.AbortSignal) {
	defer func() {
		if r := recover(); r != nil {
			s, ok := txthread.Recovered(r)
			if !ok {
				panic(r)
			}
			sig = s
		}
	}()
	fn()
	return nil
}

// cleanupAbort performs the boundary's rollback duty after catchAbort.
func cleanupAbort(tx *txthread.Thread, sig *txthread.AbortSignal) {
	RollbackTx(tx, scope.ThrownObject{}, sig.Reason)
}

func wordAddr(p *uint64) uintptr {
	return uintptr(unsafe.Pointer(p))
}

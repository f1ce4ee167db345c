// Package algs implements the transaction algorithm variants and the
// registry that dispatches between them.
//
// Every variant is an instance of the Algorithm record: a begin hook,
// read/write barriers in read-only and writing flavors, the matching
// commit pair, a rollback routine, an irrevocability hook, and a switch
// hook. Barrier dispatch is per-thread: a descriptor caches its current
// algorithm's read-only barriers at begin, and the write_ro barrier
// swaps in the writing variants on the first buffered or in-place store,
// so the fast path never branches on transaction state.
package algs

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kolkov/txmem/internal/tm/config"
	"github.com/kolkov/txmem/internal/tm/metrics"
	"github.com/kolkov/txmem/internal/tm/scope"
	"github.com/kolkov/txmem/internal/tm/txthread"
)

// Algorithm ids. They index the registry table.
const (
	Nano int32 = iota
	ByteEager

	algCount
)

// Algorithm is one entry of the registry: a named set of barriers plus
// the variant's self-description.
type Algorithm struct {
	Name string

	// Begin starts a transaction in the current scope. The return value
	// reports whether the caller must run a restart loop.
	Begin func(tx *txthread.Thread) bool

	ReadRO  txthread.ReadBarrier
	ReadRW  txthread.ReadBarrier
	WriteRO txthread.WriteBarrier
	WriteRW txthread.WriteBarrier

	CommitRO txthread.CommitBarrier
	CommitRW txthread.CommitBarrier

	// Reservation hints. Optional: a nil ReadReserve or WriteReserve
	// slot makes the boundary fall back to a plain read barrier, which
	// is an adequate reservation for optimistic variants (it logs the
	// orec observation); a nil Release slot makes Release a no-op.
	ReadReserve  func(tx *txthread.Thread, addr uintptr)
	WriteReserve func(tx *txthread.Thread, addr uintptr)
	Release      func(tx *txthread.Thread, addr uintptr)

	// Rollback releases whatever the transaction holds, restores
	// in-place damage outside the thrown range, resets the logs, and
	// reinstalls the read-only barriers.
	Rollback func(tx *txthread.Thread, thrown scope.ThrownObject, reason txthread.AbortReason)

	// Irrevoc attempts to make the running transaction irrevocable.
	Irrevoc func(tx *txthread.Thread) bool

	// OnSwitchTo runs once, under quiescence, when this algorithm
	// becomes the active algorithm.
	OnSwitchTo func()

	// PrivatizationSafe declares that a transaction privatizing a word
	// may access it non-transactionally after commit.
	PrivatizationSafe bool
}

var registry [algCount]Algorithm

// Spin budgets and backoff ceiling, installed by Configure. These are
// read on barrier hot paths and only written under quiescence at init
// or switch time.
var (
	readTimeout    uint32 = 32
	acquireTimeout uint32 = 128
	drainTimeout   uint32 = 256
	backoffCeiling uint32 = 16

	requirePrivatizationSafety bool
)

// Configure installs the runtime tunables. Call before any transaction
// runs, or during a quiescent switch.
func Configure(cfg *config.Config) {
	readTimeout = cfg.ReadTimeout
	acquireTimeout = cfg.AcquireTimeout
	drainTimeout = cfg.DrainTimeout
	backoffCeiling = cfg.BackoffCeiling
	requirePrivatizationSafety = cfg.RequirePrivatizationSafety
}

// Get returns the registry entry for id.
func Get(id int32) *Algorithm {
	return &registry[id]
}

// ByName resolves an algorithm name (case-sensitive, as registered).
func ByName(name string) (int32, error) {
	for id := int32(0); id < algCount; id++ {
		if registry[id].Name == name {
			return id, nil
		}
	}
	return 0, errors.Errorf("unknown algorithm %q", name)
}

// Names lists the registered algorithm names in id order.
func Names() []string {
	names := make([]string, 0, algCount)
	for id := int32(0); id < algCount; id++ {
		names = append(names, registry[id].Name)
	}
	return names
}

// BeginTx starts a transaction on tx under the currently active
// algorithm: raise the in-flight flag, cache the algorithm's read-only
// barriers in the descriptor, and run the variant's begin hook.
//
// The in-flight flag is raised before the current id is read; the
// switcher publishes the new id first and then drains in-flight
// descriptors, so a begin that read the old id is always waited for.
func BeginTx(tx *txthread.Thread) bool {
	tx.InFlight.Store(true)
	id := currentID.Load()
	a := &registry[id]
	tx.AlgID = id
	tx.Read = a.ReadRO
	tx.Write = a.WriteRO
	tx.Commit = a.CommitRO
	return a.Begin(tx)
}

// RollbackTx dispatches rollback to tx's cached algorithm.
func RollbackTx(tx *txthread.Thread, thrown scope.ThrownObject, reason txthread.AbortReason) {
	registry[tx.AlgID].Rollback(tx, thrown, reason)
}

// IrrevocTx asks tx's cached algorithm to go irrevocable.
func IrrevocTx(tx *txthread.Thread) bool {
	return registry[tx.AlgID].Irrevoc(tx)
}

// onFirstWrite swaps the descriptor's barriers to the writing variants.
// Called once per transaction, from the write_ro barrier or from
// ByteEager's write reservation, whichever comes first.
func onFirstWrite(tx *txthread.Thread, a *Algorithm) {
	tx.Read = a.ReadRW
	tx.Write = a.WriteRW
	tx.Commit = a.CommitRW
}

// onReadOnlyCommit finishes a read-only commit: bump the counters,
// clear the abort streak, and drop the in-flight flag.
func onReadOnlyCommit(tx *txthread.Thread, a *Algorithm) {
	tx.CommitsRO++
	tx.ConsecAborts = 0
	tx.InFlight.Store(false)
	metrics.IncCommit(a.Name, "ro")
}

// onReadWriteCommit finishes a writing commit and reinstalls the
// read-only barriers for the next transaction.
func onReadWriteCommit(tx *txthread.Thread, a *Algorithm) {
	tx.CommitsRW++
	tx.ConsecAborts = 0
	tx.Read = a.ReadRO
	tx.Write = a.WriteRO
	tx.Commit = a.CommitRO
	tx.InFlight.Store(false)
	metrics.IncCommit(a.Name, "rw")
}

// postRollback finishes an abort: bump the counters, reinstall the
// read-only barriers, and drop the in-flight flag. The restart loop
// re-raises it on the next begin.
func postRollback(tx *txthread.Thread, a *Algorithm, reason txthread.AbortReason) {
	tx.Aborts++
	tx.ConsecAborts++
	tx.Read = a.ReadRO
	tx.Write = a.WriteRO
	tx.Commit = a.CommitRO
	tx.InFlight.Store(false)
	metrics.IncAbort(a.Name, reason.String())
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.WithFields(logrus.Fields{
			"thread":    tx.ID,
			"algorithm": a.Name,
			"reason":    reason.String(),
			"streak":    tx.ConsecAborts,
		}).Trace("transaction rolled back")
	}
}

// Package stm provides software transactional memory for Go: blocks of
// shared-memory reads and writes execute as atomic transactions with
// automatic conflict detection, rollback, and retry. Committed
// transactions appear to execute in some serial order no matter how many
// threads issue them concurrently.
//
// # Quick start
//
//	cfg := stm.NewDefaultConfig()
//	if err := stm.Init(cfg); err != nil {
//		log.Fatal(err)
//	}
//	defer stm.Shutdown()
//
//	th, err := stm.ThreadInit()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer th.Shutdown()
//
//	var balance uint64
//	err = th.Atomic(func(tx *stm.Tx) error {
//		cur := tx.Load(&balance)
//		tx.Store(&balance, cur+100)
//		return nil
//	})
//
// # Execution model
//
// Each participating goroutine registers once with ThreadInit and runs
// its transactions through the returned handle. A transaction body may
// be re-executed any number of times before it commits, conflicting
// transactions abort invisibly and restart from their checkpoint, so
// bodies must be idempotent. Buffer impure side effects and register
// them with Tx.OnCommit; they run exactly once, after the commit.
//
// # Algorithms
//
// The runtime ships two concurrency protocols and can switch between
// them at a quiescent point via ChangeAlgorithm:
//
//   - "nano": optimistic. Reads never lock; writes buffer into a redo
//     log and acquire ownership records only at commit. Validation is
//     value-based with no global timestamp.
//   - "byteeager": pessimistic, reader/writer bytelocks acquired
//     eagerly, in-place update with an undo log, bounded-spin timeouts
//     instead of deadlock. Privatization safe.
//
// # Granularity
//
// Shared data is accessed at 8-byte word granularity with per-byte
// masks; Tx offers word, uint32, uint8, and byte-range accessors. Words
// accessed transactionally should not be written non-transactionally by
// concurrent code, the runtime provides no strong atomicity.
package stm

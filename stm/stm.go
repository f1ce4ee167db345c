// Package stm is the public API of the transactional memory runtime.
//
// See doc.go for detailed documentation and examples.
package stm

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kolkov/txmem/internal/tm/algs"
	"github.com/kolkov/txmem/internal/tm/config"
	"github.com/kolkov/txmem/internal/tm/meta"
	"github.com/kolkov/txmem/internal/tm/metrics"
	"github.com/kolkov/txmem/internal/tm/scope"
	"github.com/kolkov/txmem/internal/tm/txthread"
)

// Config re-exports the runtime configuration type.
type Config = config.Config

// NewDefaultConfig returns the production defaults.
func NewDefaultConfig() *Config { return config.NewDefaultConfig() }

// NewTestConfig returns defaults tuned for unit tests.
func NewTestConfig() *Config { return config.NewTestConfig() }

// LoadConfigFile overlays a TOML file onto the defaults.
func LoadConfigFile(path string) (*Config, error) { return config.LoadFile(path) }

// ErrIrrevocableUnsupported is returned when the active algorithm cannot
// make the running transaction irrevocable.
var ErrIrrevocableUnsupported = errors.New("active algorithm does not support irrevocability")

// CancelledError is returned from Atomic when the transaction body
// cancelled explicitly. ThrownAddr/ThrownLen describe the byte range the
// body declared as a thrown object; those bytes were exempted from
// rollback and carry the cancellation payload.
type CancelledError struct {
	ThrownAddr uintptr
	ThrownLen  uintptr
}

func (e *CancelledError) Error() string {
	return "stm: transaction cancelled"
}

// Init configures the runtime: log level, metrics, spin budgets, the
// metadata tables, and the initial algorithm. Call once before any
// thread registers; re-initializing is legal only with no transaction
// in flight.
func Init(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "parse log level %q", cfg.LogLevel)
	}
	logrus.SetLevel(lvl)

	meta.ResetOrecs()
	meta.ResetByteLocks()

	if cfg.EnableMetrics {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	algs.Configure(cfg)
	if err := algs.SwitchToName(cfg.Algorithm); err != nil {
		return err
	}
	logrus.WithField("algorithm", cfg.Algorithm).Info("transactional memory runtime initialized")
	return nil
}

// Shutdown finalizes the runtime. Live thread handles must be shut down
// first.
func Shutdown() {
	if n := txthread.LiveCount(); n != 0 {
		logrus.WithField("live_threads", n).Warn("runtime shutdown with registered threads")
	}
	metrics.Disable()
}

// ChangeAlgorithm performs a quiescent switch to the named algorithm.
func ChangeAlgorithm(name string) error {
	return algs.SwitchToName(name)
}

// CurrentAlgorithm returns the active algorithm's name.
func CurrentAlgorithm() string {
	return algs.Current().Name
}

// Algorithms lists the registered algorithm names.
func Algorithms() []string {
	return algs.Names()
}

// Thread is a per-thread handle on the runtime. Exactly one goroutine
// may use a handle; it owns the underlying descriptor and its logs.
type Thread struct {
	d *txthread.Thread
	h Tx
}

// ThreadInit registers the calling thread with the runtime and returns
// its handle. The handle's id indexes bytelock reader slots and composes
// the orec lock fingerprint.
func ThreadInit() (*Thread, error) {
	d, err := txthread.Register()
	if err != nil {
		return nil, err
	}
	t := &Thread{d: d}
	t.h.d = d
	logrus.WithField("thread", d.ID).Debug("thread registered")
	return t, nil
}

// Shutdown relinquishes the thread's id. Must not be called inside a
// transaction.
func (t *Thread) Shutdown() {
	logrus.WithFields(logrus.Fields{
		"thread":     t.d.ID,
		"commits_ro": t.d.CommitsRO,
		"commits_rw": t.d.CommitsRW,
		"aborts":     t.d.Aborts,
	}).Debug("thread shutdown")
	txthread.Unregister(t.d)
}

// Stats reports the handle's lifetime commit and abort counts.
func (t *Thread) Stats() (commitsRO, commitsRW, aborts uint64) {
	return t.d.CommitsRO, t.d.CommitsRW, t.d.Aborts
}

// Atomic runs fn as a transaction and blocks until it commits, is
// cancelled, or returns an error.
//
// Conflict and timeout aborts are invisible to the caller: the body is
// re-executed from its checkpoint, so it must be idempotent (buffer
// impure side effects and register them with OnCommit). A non-nil error
// from the outermost fn rolls the transaction back and is returned
// as-is. Cancel unwinds with a CancelledError carrying the thrown range.
//
// Nested calls on the same handle are flattened: they push a scope frame
// for callbacks and thrown-object tracking, but share the outer
// transaction's logs, and any abort restarts from the outermost
// checkpoint. A non-nil error from a nested fn is returned to the
// enclosing body without rolling anything back.
func (t *Thread) Atomic(fn func(tx *Tx) error) error {
	d := t.d

	// nested: push a frame and run flat inside the outer transaction
	if d.Depth() > 0 {
		sc := d.PushScope()
		err := fn(&t.h)
		if err != nil {
			return err
		}
		parent := d.CurrentScopeParent()
		sc.CommitInto(parent)
		d.PopScope()
		return nil
	}

	for {
		sc := d.PushScope()
		algs.BeginTx(d)

		err, sig := t.runBody(fn)
		if sig == nil && err == nil {
			sig = t.runCommit()
			if sig == nil {
				sc.CommitOuter()
				d.PopScope()
				return nil
			}
		}

		if sig != nil && sig.Reason != txthread.AbortCancel {
			// conflict or timeout: invisible restart. The thrown object
			// pertains only to explicit cancellation, so drop it before
			// the rollback filters against it.
			d.ClearThrownObjects()
			algs.RollbackTx(d, scope.ThrownObject{}, sig.Reason)
			d.UnwindScopes()
			continue
		}

		// explicit cancel, or an error return from the body
		thrown := d.ThrownRange()
		algs.RollbackTx(d, thrown, txthread.AbortCancel)
		d.UnwindScopes()
		if err != nil {
			return err
		}
		return &CancelledError{ThrownAddr: thrown.Addr, ThrownLen: thrown.Len}
	}
}

// runBody executes the transaction body, converting abort panics into a
// signal. A foreign panic releases the transaction's resources (locks
// must never leak) and propagates.
func (t *Thread) runBody(fn func(tx *Tx) error) (err error, sig *txthread.AbortSignal) {
	defer func() {
		if r := recover(); r != nil {
			if s, ok := txthread.Recovered(r); ok {
				sig = s
				return
			}
			t.d.ClearThrownObjects()
			algs.RollbackTx(t.d, scope.ThrownObject{}, txthread.AbortConflict)
			t.d.UnwindScopes()
			panic(r)
		}
	}()
	err = fn(&t.h)
	return err, nil
}

// runCommit drives the commit barrier, converting an abort during
// acquire/validate into a signal.
func (t *Thread) runCommit() (sig *txthread.AbortSignal) {
	defer func() {
		if r := recover(); r != nil {
			if s, ok := txthread.Recovered(r); ok {
				sig = s
				return
			}
			panic(r)
		}
	}()
	t.d.Commit(t.d)
	return nil
}

package algs

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kolkov/txmem/internal/tm/metrics"
	"github.com/kolkov/txmem/internal/tm/txthread"
)

// currentID is the id of the active algorithm. Descriptors read it at
// every begin, after raising their in-flight flag.
var currentID atomic.Int32

// switchMu serializes algorithm switches.
var switchMu sync.Mutex

// CurrentID returns the active algorithm id.
func CurrentID() int32 {
	return currentID.Load()
}

// Current returns the active algorithm entry.
func Current() *Algorithm {
	return &registry[currentID.Load()]
}

// SwitchTo installs the algorithm with the given id as the active
// algorithm, after reaching quiescence.
//
// The new id is published first; then every registered descriptor is
// polled until it has been observed out of flight at least once. A
// transaction that began under the old id necessarily had its in-flight
// flag up before the publish, so the drain waits for it; transactions
// beginning afterwards already run the new algorithm. Once the old
// algorithm has drained, the new algorithm's switch hook runs.
func SwitchTo(id int32) error {
	if id < 0 || id >= algCount {
		return errors.Errorf("algorithm id %d out of range", id)
	}

	switchMu.Lock()
	defer switchMu.Unlock()

	if currentID.Load() == id {
		return nil
	}
	next := &registry[id]
	if requirePrivatizationSafety && !next.PrivatizationSafe {
		return errors.Errorf("algorithm %q is not privatization safe", next.Name)
	}

	prev := registry[currentID.Load()].Name
	currentID.Store(id)

	// quiescence: wait for every descriptor to be seen out of flight
	txthread.ForEach(func(tx *txthread.Thread) {
		for tx.InFlight.Load() {
			runtime.Gosched()
		}
	})

	next.OnSwitchTo()
	metrics.IncSwitch()
	logrus.WithFields(logrus.Fields{
		"from": prev,
		"to":   next.Name,
	}).Info("algorithm switch complete")
	return nil
}

// SwitchToName resolves a name and switches to it.
func SwitchToName(name string) error {
	id, err := ByName(name)
	if err != nil {
		return err
	}
	return SwitchTo(id)
}

package algs

import "runtime"

// spin waits out a lock holder for a few dozen cycles before the caller
// retries. Go has no portable CPU-pause intrinsic, so a short busy loop
// with an occasional scheduler yield stands in for it.
func spin() {
	for i := 0; i < 64; i++ {
		if i == 32 {
			runtime.Gosched()
		}
	}
}

package stm_test

import (
	"fmt"
	"log"
	"sync"

	"github.com/kolkov/txmem/stm"
)

// Example demonstrates concurrent increments of a shared counter.
// Without transactions the unsynchronized read-modify-write would lose
// updates; under Atomic the total is exact.
func Example() {
	if err := stm.Init(stm.NewDefaultConfig()); err != nil {
		log.Fatal(err)
	}
	defer stm.Shutdown()

	var counter uint64

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			th, err := stm.ThreadInit()
			if err != nil {
				log.Fatal(err)
			}
			defer th.Shutdown()

			for i := 0; i < 1000; i++ {
				if err := th.Atomic(func(tx *stm.Tx) error {
					tx.Store(&counter, tx.Load(&counter)+1)
					return nil
				}); err != nil {
					log.Fatal(err)
				}
			}
		}()
	}
	wg.Wait()

	fmt.Println(counter)
	// Output: 4000
}

// ExampleTx_OnCommit shows how to defer impure side effects so they run
// exactly once, after the transaction commits, no matter how many times
// the body is re-executed.
func ExampleTx_OnCommit() {
	if err := stm.Init(stm.NewDefaultConfig()); err != nil {
		log.Fatal(err)
	}
	defer stm.Shutdown()

	th, err := stm.ThreadInit()
	if err != nil {
		log.Fatal(err)
	}
	defer th.Shutdown()

	var inventory uint64 = 1
	err = th.Atomic(func(tx *stm.Tx) error {
		n := tx.Load(&inventory)
		if n == 0 {
			return fmt.Errorf("sold out")
		}
		tx.Store(&inventory, n-1)
		tx.OnCommit(func() { fmt.Println("order shipped") })
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}
	// Output: order shipped
}

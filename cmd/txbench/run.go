package main

import (
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kolkov/txmem/stm"
)

type runOptions struct {
	configPath  string
	algorithm   string
	threads     int
	duration    time.Duration
	accounts    int
	readPct     int
	metricsAddr string
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a bank-transfer workload",
		Long: `Runs a classic bank-transfer stress: each worker repeatedly either
transfers a random amount between two random accounts or sums all
balances, all transactionally. The balance total is checked at the end;
any drift is an atomicity violation.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runBench(opts)
		},
	}

	addRunFlags(cmd.Flags(), opts)
	return cmd
}

func addRunFlags(fs *pflag.FlagSet, opts *runOptions) {
	fs.StringVarP(&opts.configPath, "config", "c", "", "TOML config file (defaults apply if empty)")
	fs.StringVarP(&opts.algorithm, "algorithm", "a", "", "algorithm override (nano, byteeager)")
	fs.IntVarP(&opts.threads, "threads", "t", 4, "worker goroutines")
	fs.DurationVarP(&opts.duration, "duration", "d", 5*time.Second, "run time")
	fs.IntVar(&opts.accounts, "accounts", 64, "number of accounts")
	fs.IntVar(&opts.readPct, "read-pct", 20, "percentage of read-only (sum) transactions")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9090)")
}

func runBench(opts *runOptions) error {
	cfg := stm.NewDefaultConfig()
	if opts.configPath != "" {
		loaded, err := stm.LoadConfigFile(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.algorithm != "" {
		cfg.Algorithm = opts.algorithm
	}
	if opts.metricsAddr != "" {
		cfg.EnableMetrics = true
	}

	if err := stm.Init(cfg); err != nil {
		return err
	}
	defer stm.Shutdown()

	if opts.metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(opts.metricsAddr, nil); err != nil {
				logrus.WithError(err).Error("metrics listener failed")
			}
		}()
		logrus.WithField("addr", opts.metricsAddr).Info("metrics exposed")
	}

	// seed the accounts; the sum is the conserved quantity
	const initialBalance = 1000
	balances := make([]uint64, opts.accounts)
	for i := range balances {
		balances[i] = initialBalance
	}
	want := uint64(opts.accounts) * initialBalance

	var (
		stop     atomic.Bool
		commits  atomic.Uint64
		aborts   atomic.Uint64
		wg       sync.WaitGroup
		startErr atomic.Value
	)

	for w := 0; w < opts.threads; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()

			th, err := stm.ThreadInit()
			if err != nil {
				startErr.Store(err)
				return
			}
			defer th.Shutdown()

			rng := rand.New(rand.NewSource(seed))
			for !stop.Load() {
				if rng.Intn(100) < opts.readPct {
					err = th.Atomic(func(tx *stm.Tx) error {
						var sum uint64
						for i := range balances {
							sum += tx.Load(&balances[i])
						}
						if sum != want {
							return fmt.Errorf("inconsistent snapshot: sum %d want %d", sum, want)
						}
						return nil
					})
				} else {
					from := rng.Intn(opts.accounts)
					to := rng.Intn(opts.accounts)
					if to == from {
						to = (to + 1) % opts.accounts
					}
					amount := uint64(rng.Intn(50))
					err = th.Atomic(func(tx *stm.Tx) error {
						f := tx.Load(&balances[from])
						if f < amount {
							return nil // insufficient funds; commit empty
						}
						tx.Store(&balances[from], f-amount)
						t := tx.Load(&balances[to])
						tx.Store(&balances[to], t+amount)
						return nil
					})
				}
				if err != nil {
					startErr.Store(err)
					return
				}
			}

			ro, rw, a := th.Stats()
			commits.Add(ro + rw)
			aborts.Add(a)
		}(int64(w) + 1)
	}

	time.Sleep(opts.duration)
	stop.Store(true)
	wg.Wait()

	if err, ok := startErr.Load().(error); ok && err != nil {
		return err
	}

	// final consistency check, non-transactional (all workers are done)
	var sum uint64
	for i := range balances {
		sum += balances[i]
	}
	if sum != want {
		return fmt.Errorf("balance drift: sum %d want %d", sum, want)
	}

	total := commits.Load()
	fmt.Printf("algorithm   %s\n", stm.CurrentAlgorithm())
	fmt.Printf("threads     %d\n", opts.threads)
	fmt.Printf("commits     %d (%.0f/s)\n", total, float64(total)/opts.duration.Seconds())
	fmt.Printf("aborts      %d\n", aborts.Load())
	fmt.Printf("balance ok  %d\n", sum)
	return nil
}

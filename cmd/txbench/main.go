// txbench drives the transactional memory runtime with synthetic
// workloads and reports throughput and abort rates. It exists to
// exercise the runtime under real contention and to expose its
// Prometheus counters.
//
// Usage:
//
//	txbench run --algorithm byteeager --threads 8 --duration 5s
//	txbench algs
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "txbench",
		Short:         "stress and benchmark the txmem runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newAlgsCommand())

	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

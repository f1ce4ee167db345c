package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolkov/txmem/stm"
)

func newAlgsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "algs",
		Short: "list the registered transaction algorithms",
		Run: func(_ *cobra.Command, _ []string) {
			for _, name := range stm.Algorithms() {
				fmt.Println(name)
			}
		},
	}
}

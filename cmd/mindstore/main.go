package main

import (
	"os"

	"github.com/clawmem/mindstore/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

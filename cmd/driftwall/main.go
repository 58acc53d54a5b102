package main

import (
	"os"

	"github.com/driftwall/driftwall/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

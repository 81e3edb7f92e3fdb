package main

import (
	"os"

	"github.com/splitpulse/splitpulse/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

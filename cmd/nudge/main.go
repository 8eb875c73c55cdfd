package main

import (
	"os"

	"github.com/nudgehq/nudge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

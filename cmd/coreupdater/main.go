// Package main provides the entry point for the coreupdater CLI.
package main

import (
	"os"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/fatal"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/logging"
)

func main() {
	guard := fatal.New(os.Stdout)
	stdout = guard.Writer()

	err := guard.Run(Execute)
	_ = logging.Close()
	if err != nil {
		os.Exit(1)
	}
}

// Package main is the entry point for the robomonkey CLI.
package main

import (
	"os"

	"github.com/robomonkey/robomonkey/cmd/robomonkey/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

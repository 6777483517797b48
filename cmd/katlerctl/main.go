// Package main is the entry point for the katlerctl CLI tool.
package main

import (
	"os"

	"github.com/good-yellow-bee/katler/cmd/katlerctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

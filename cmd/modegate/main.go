// Package main provides the entry point for the modegate CLI.
package main

import (
	"os"

	"github.com/randalmurphal/modegate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package main is the entry point for the phosh-search CLI.
package main

import (
	"os"

	"github.com/phosh-mobile/searchd/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

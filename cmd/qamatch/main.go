// Package main provides the entry point for the qamatch CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/qamatch/cmd/qamatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

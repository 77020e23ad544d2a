// Package main provides the entry point for the qassist CLI.
package main

import (
	"os"

	"github.com/amanbi/qassist/cmd/qassist/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

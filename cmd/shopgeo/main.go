// Package main provides the entry point for the shopgeo service and CLI.
package main

import (
	"os"

	"github.com/kailas-cloud/shopgeo/cmd/shopgeo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package main is the entry point for the voxcut application.
package main

import (
	"os"

	"github.com/voxcut/voxcut/cmd/voxcut/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

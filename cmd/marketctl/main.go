// Package main is the entry point for marketctl, the operator CLI.
package main

import (
	"os"

	"github.com/grailsmarket/backend-sub003/cmd/marketctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package main is the entry point for hoodhub, a chat client for an
// append-only message ledger.
package main

import (
	"fmt"
	"os"

	"hoodhub.chat/hub/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}

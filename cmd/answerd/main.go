// Command answerd is the entry point for the grounded question-answering
// service. It provides a CLI interface (via Cobra) for one-shot questions
// and an HTTP server exposing the sync and async answer API.
package main

import (
	"fmt"
	"os"

	"github.com/answerd/answerd/cmd/answerd/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

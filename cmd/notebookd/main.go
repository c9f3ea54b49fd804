// Command notebookd is the entry point for the notebookd document
// intelligence server. It provides a CLI interface (via Cobra) and an HTTP
// server exposing the notebook, document, query, chat, and summary API.
package main

import (
	"fmt"
	"os"

	"github.com/notebookd/notebookd/cmd/notebookd/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

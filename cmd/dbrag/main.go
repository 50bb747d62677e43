// Command dbrag is the entry point for the data platform knowledge assistant.
// It provides a CLI interface (via Cobra) and an HTTP server exposing the
// question-answering API.
package main

import (
	"fmt"
	"os"

	"github.com/dataplane-ai/dbrag-go/cmd/dbrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

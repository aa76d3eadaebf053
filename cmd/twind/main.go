// Command twind is the entry point for the twind digital-twin memory
// service. It provides a Cobra CLI with an HTTP API server, a background
// job worker, and operational subcommands for ingestion and job triage.
package main

import (
	"fmt"
	"os"

	"github.com/mirrorform/twind-go/cmd/twind/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

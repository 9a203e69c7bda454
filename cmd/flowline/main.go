// Command flowline is the CLI entry point for the flowline orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/harrison/flowline/internal/cmd"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd.Version = version
	root := cmd.NewRootCommand()

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

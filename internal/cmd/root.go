// Package cmd wires flowline's cobra command tree: run, status, stop. This
// is the host referred to throughout the other packages' docs — the only
// place that touches os.Stdin, os.Signal, and process exit codes. The core
// (scheduler, gateway, worker pool, control bus) never does.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand constructs the flowline root command and its subtree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowline",
		Short: "Git-driven autonomous development orchestrator",
		Long: `flowline decomposes a natural-language development request into a
dependency graph of tasks and executes them concurrently in isolated git
worktrees, recording all plan and task state as structured commits on
dedicated branches. The repository is the only state store; there is no
external database or queue.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newStopCommand())

	return cmd
}

package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

func newStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running flowline session to shut down",
		Long: `Send a termination signal to the flowline run process recorded for this
repository. The first signal stops in-flight work gracefully; if the
process does not exit, run stop again to force it.`,
		Args: cobra.NoArgs,
		RunE: stopCommand,
	}
	addRepoFlags(cmd)
	return cmd
}

func stopCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pid, err := readPID(cfg.RepoPath)
	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sent stop signal to flowline session (pid %d)\n", pid)
	return nil
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/flowline/internal/gitrepo"
	"github.com/harrison/flowline/internal/logger"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <plan-branch>",
		Short: "Print the latest plan snapshot on a plan branch",
		Long: `Read the latest commit on <plan-branch> (e.g. plan/landing-page) and
print its tasks and their statuses. This reads the repository directly and
does not require a running session, since the repository is the only
state store.`,
		Args: cobra.ExactArgs(1),
		RunE: statusCommand,
	}
	addRepoFlags(cmd)
	return cmd
}

func statusCommand(cmd *cobra.Command, args []string) error {
	branch := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw := gitrepo.New(cfg, gitrepo.ExecRunner{}, logger.Discard)
	plan, warnings, err := gw.ReadPlan(context.Background(), branch)
	if err != nil {
		return fmt.Errorf("read plan branch %s: %w", branch, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session: %s\n", plan.SessionName)
	fmt.Fprintf(out, "branch:  %s (v%d)\n", branch, plan.Version)
	fmt.Fprintf(out, "goal:    %s\n\n", plan.Goal)

	fmt.Fprintf(out, "%-8s %-10s %-8s %s\n", "task", "status", "priority", "description")
	for _, t := range plan.Tasks {
		fmt.Fprintf(out, "%-8s %-10s %-8s %s\n", t.ID, t.Status, t.Priority, t.Description)
	}

	for _, w := range warnings {
		fmt.Fprintf(cmd.OutOrStderr(), "warning: %s: %s\n", w.Context, w.Message)
	}
	return nil
}

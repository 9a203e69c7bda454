package cmd

import (
	"github.com/spf13/cobra"

	"github.com/harrison/flowline/internal/config"
)

// addRepoFlags registers the flags every subcommand needs to locate a
// config file and the repository it governs.
func addRepoFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to config file (default: .flowline/config.yaml)")
	cmd.Flags().String("repo-path", "", "Override repo_path from config")
}

// loadConfig loads the config file named by --config (defaulting to
// .flowline/config.yaml) and applies any flags the caller has set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = ".flowline/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("repo-path") {
		cfg.RepoPath, _ = cmd.Flags().GetString("repo-path")
	}
	return cfg, nil
}

// Package cli holds the quizbot command tree.
package cli

import (
	"os"

	"quizbot/internal/config"

	"github.com/spf13/cobra"
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "./config.json"
	}
	var configPath string

	cmd := &cobra.Command{
		Use:          "quizbot",
		Short:        "Telegram quiz bot",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(".env")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to config json/yaml")
	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newLeaderboardCmd(&configPath))
	cmd.AddCommand(newQuestionsCmd(&configPath))
	return cmd
}

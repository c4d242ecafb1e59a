package cli

import (
	"fmt"
	"io"
	"strings"

	"quizbot/internal/config"
	"quizbot/internal/questions"
	logx "quizbot/pkg/logx"

	"github.com/spf13/cobra"
)

func newQuestionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Question pool tools",
	}
	var file string
	check := &cobra.Command{
		Use:   "check",
		Short: "Load and validate the question pool file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(file)
			if path == "" {
				cfg, err := config.NewConfigManager(*configPath).Parse()
				if err != nil {
					return err
				}
				path = cfg.Questions.Path
			}
			return runQuestionsCheck(cmd.OutOrStdout(), path)
		},
	}
	check.Flags().StringVar(&file, "file", "", "pool file (defaults to questions.path)")
	cmd.AddCommand(check)
	return cmd
}

func runQuestionsCheck(out io.Writer, path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("questions.path is not set")
	}
	log := logx.NewWriter(out, "WARN")
	items, skipped, err := questions.ParseFile(path, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d valid, %d skipped\n", path, len(items), skipped)
	if len(items) == 0 {
		return fmt.Errorf("no usable questions in %s", path)
	}
	return nil
}

// Package commands defines all Cobra CLI commands for the kbqa binary.
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kbqa",
		Short: "kbqa: question answering over a local knowledge base",
		Long: `kbqa indexes a directory of Markdown and text documents and answers
questions from it. Answers cite the chunks they are drawn from; questions the
knowledge base does not cover are refused instead of guessed.

Embedding and chat providers are selected via EMBEDDING_PROVIDER and
MODEL_PROVIDER, a .env file, or a YAML config file (~/.kbqa/config.yaml).
JSON results are printed on stdout; logs go to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// .env first, then YAML; neither overrides the real environment.
			if err := config.LoadDotEnv(log); err != nil {
				return err
			}
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// LOG_LEVEL and LOG_FORMAT may have come from the files above.
			log = logging.New()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(logging.WithLogger(ctx, log))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.kbqa/config.yaml)")

	root.AddCommand(
		NewIndexCmd(),
		NewAskCmd(),
		NewServeCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}

package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/qa"
	"github.com/54b3r/kbqa-go/internal/rag"
	"github.com/54b3r/kbqa-go/internal/tracing"
)

// NewAskCmd constructs the `kbqa ask` command, which answers a single
// question from the index and prints the result as JSON.
func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the knowledge base",
		Long: `Embed the question, retrieve the most similar chunks from the index and
either answer from them with citations or refuse when the best score is below
the threshold.

The question may be given with --question or as positional arguments.

Examples:
  kbqa ask "How do I rotate the signing key?"
  kbqa ask --question "What is the retention period?" --topk 8
  kbqa ask --threshold 0.5 --backend qdrant "Who owns billing?"`,
		RunE: audited(askOptionAttrs, runAsk),
	}

	cmd.Flags().StringP("question", "q", "", "Question to answer")
	addAskFlags(cmd)
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)

	question, _ := cmd.Flags().GetString("question")
	if question == "" {
		question = strings.Join(args, " ")
	}
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("ask: a question is required (--question or positional): %w", rag.ErrInvalidArgument)
	}

	opts, err := resolveAskOptions(cmd, "cli")
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	flush := tracing.Install(log)
	defer flush()

	rt, err := buildService(ctx, opts)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	defer rt.Close()

	res, err := rt.service.Ask(ctx, qa.Request{Question: question})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), res)
}

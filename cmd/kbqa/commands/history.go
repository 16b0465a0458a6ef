package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/rag"
	"github.com/54b3r/kbqa-go/internal/store"
)

// NewHistoryCmd constructs the `kbqa history` command, which prints the
// most recent entries of the ask log as JSON.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently asked questions and whether they were answered",
		Args:  cobra.NoArgs,
		RunE: audited(func(cmd *cobra.Command) []slog.Attr {
			n, _ := cmd.Flags().GetInt("limit")
			return []slog.Attr{slog.Int("limit", n)}
		}, runHistory),
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of entries to show")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	log := logging.FromContext(cmd.Context())
	n, _ := cmd.Flags().GetInt("limit")
	if n <= 0 {
		return fmt.Errorf("history: --limit must be positive, got %d: %w", n, rag.ErrInvalidArgument)
	}

	hs, closeHistory := openHistory(log)
	defer closeHistory()
	if hs == nil {
		return fmt.Errorf("history: ask log is unavailable: %w", rag.ErrNotFound)
	}

	entries, err := hs.Recent(cmd.Context(), n)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	return printJSON(cmd.OutOrStdout(), entries)
}

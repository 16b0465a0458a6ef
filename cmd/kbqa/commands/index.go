package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/embedder"
	"github.com/54b3r/kbqa-go/internal/ingestion"
	"github.com/54b3r/kbqa-go/internal/logging"
)

// indexResult is the JSON document printed by `kbqa index`.
type indexResult struct {
	OK    bool               `json:"ok"`
	Stats *ingestion.Summary `json:"stats"`
}

// NewIndexCmd constructs the `kbqa index` command, which rebuilds the
// flat-file index from a knowledge-base directory.
func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the embedding index from a knowledge-base directory",
		Long: `Walk a knowledge-base directory, split every .md and .txt file into
sections and overlapping chunks, embed the chunks in batches and write the
index (embeddings.jsonl, manifest.json) and the chunk listing.

The previous index is replaced only when every batch embeds successfully.
With --qdrant the chunks are also mirrored into the Qdrant collection named
by QDRANT_COLLECTION.

Examples:
  kbqa index --kb ./kb
  kbqa index --kb ./kb --max-len 600 --overlap 80
  EMBEDDING_PROVIDER=ollama EMBEDDING_MODEL=nomic-embed-text kbqa index --kb ./kb`,
		Args: cobra.NoArgs,
		RunE: audited(indexAttrs, runIndex),
	}

	f := cmd.Flags()
	f.String("kb", "", "Knowledge-base root directory (required)")
	f.String("index-dir", defaultIndexDir, "Index output directory (env KBQA_INDEX_DIR)")
	f.String("chunks-path", defaultChunksPath, "Chunk listing output path (env KBQA_CHUNKS_PATH)")
	f.String("embedding-model", "", "Embedding model (env EMBEDDING_MODEL, default text-embedding-3-small for openai)")
	f.Int("max-len", ingestion.DefaultMaxLen, "Chunk window size in characters (env KBQA_MAX_LEN)")
	f.Int("overlap", ingestion.DefaultOverlap, "Chunk window overlap in characters (env KBQA_OVERLAP)")
	f.Int("batch-size", ingestion.DefaultBatchSize, "Chunks per embedding call (env KBQA_BATCH_SIZE)")
	f.Int("workers", ingestion.DefaultWorkers, "Concurrent embedding calls (env KBQA_WORKERS)")
	f.Bool("qdrant", false, "Also mirror the index into Qdrant")
	_ = cmd.MarkFlagRequired("kb")

	return cmd
}

// resolveIndexOptions reads the index flags into ingestion.Options.
func resolveIndexOptions(cmd *cobra.Command) (ingestion.Options, error) {
	opts := ingestion.Options{
		KBDir:          stringOpt(cmd, "kb", ""),
		IndexDir:       stringOpt(cmd, "index-dir", "KBQA_INDEX_DIR"),
		ChunksPath:     stringOpt(cmd, "chunks-path", "KBQA_CHUNKS_PATH"),
		EmbeddingModel: embedder.ResolveModel(stringOpt(cmd, "embedding-model", "")),
	}
	var err error
	if opts.MaxLen, err = intOpt(cmd, "max-len", "KBQA_MAX_LEN"); err != nil {
		return opts, err
	}
	if opts.Overlap, err = intOpt(cmd, "overlap", "KBQA_OVERLAP"); err != nil {
		return opts, err
	}
	if opts.BatchSize, err = intOpt(cmd, "batch-size", "KBQA_BATCH_SIZE"); err != nil {
		return opts, err
	}
	if opts.Workers, err = intOpt(cmd, "workers", "KBQA_WORKERS"); err != nil {
		return opts, err
	}
	return opts, nil
}

func indexAttrs(cmd *cobra.Command) []slog.Attr {
	opts, err := resolveIndexOptions(cmd)
	if err != nil {
		return nil
	}
	return []slog.Attr{
		slog.String("kb", opts.KBDir),
		slog.String("index_dir", opts.IndexDir),
		slog.String("chunks_path", opts.ChunksPath),
		slog.Int("max_len", opts.MaxLen),
		slog.Int("overlap", opts.Overlap),
		slog.Int("batch_size", opts.BatchSize),
	}
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)

	opts, err := resolveIndexOptions(cmd)
	if err != nil {
		return err
	}
	policy, err := retryPolicy()
	if err != nil {
		return err
	}
	emb, err := buildEmbedder(ctx, opts.EmbeddingModel, policy)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	var mirror ingestion.Mirror
	if useQdrant, _ := cmd.Flags().GetBool("qdrant"); useQdrant || config.String("KBQA_BACKEND", "") == backendQdrant {
		qs, err := openQdrant()
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		defer func() { _ = qs.Close() }()
		mirror = qs
		log.Info("index: mirroring into qdrant", slog.String("collection", qs.Collection()))
	}

	pipeline, err := ingestion.NewPipeline(emb, mirror)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	summary, err := pipeline.Build(ctx, opts, func(msg string) {
		log.Info("index: " + msg)
	})
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	return printJSON(cmd.OutOrStdout(), indexResult{OK: true, Stats: summary})
}

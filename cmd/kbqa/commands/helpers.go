package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/answer"
	"github.com/54b3r/kbqa-go/internal/audit"
	"github.com/54b3r/kbqa-go/internal/budget"
	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/embedder"
	"github.com/54b3r/kbqa-go/internal/index"
	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/provider"
	"github.com/54b3r/kbqa-go/internal/qa"
	"github.com/54b3r/kbqa-go/internal/rag"
	"github.com/54b3r/kbqa-go/internal/retry"
	"github.com/54b3r/kbqa-go/internal/store"
)

// Index artifact defaults shared by every command.
const (
	defaultIndexDir   = "data/index"
	defaultChunksPath = "data/chunks.json"

	backendFlat   = "flat"
	backendQdrant = "qdrant"
)

// audited wraps a RunE so every invocation emits start and end audit
// records. attrs resolves the flag values recorded in the start record.
func audited(attrs func(cmd *cobra.Command) []slog.Attr, run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		log := logging.FromContext(ctx)
		start := time.Now()

		var extra []slog.Attr
		if attrs != nil {
			extra = attrs(cmd)
		}
		audit.LogCommandStart(ctx, log, cmd.Name(), loadedConfigPath, extra...)
		defer func() { audit.LogCommandEnd(ctx, log, cmd.Name(), start, err) }()

		return run(cmd, args)
	}
}

// stringOpt returns the flag value when set on the command line, else the
// env var, else the flag default.
func stringOpt(cmd *cobra.Command, flag, envKey string) string {
	v, _ := cmd.Flags().GetString(flag)
	if cmd.Flags().Changed(flag) || envKey == "" {
		return v
	}
	return config.String(envKey, v)
}

// intOpt is stringOpt for integer flags. A malformed env value fails with
// rag.ErrInvalidArgument.
func intOpt(cmd *cobra.Command, flag, envKey string) (int, error) {
	v, _ := cmd.Flags().GetInt(flag)
	if cmd.Flags().Changed(flag) || envKey == "" {
		return v, nil
	}
	return config.Int(envKey, v)
}

// floatOpt is stringOpt for float flags.
func floatOpt(cmd *cobra.Command, flag, envKey string) (float64, error) {
	v, _ := cmd.Flags().GetFloat64(flag)
	if cmd.Flags().Changed(flag) || envKey == "" {
		return v, nil
	}
	return config.Float(envKey, v)
}

// printJSON writes v to w as two-space indented JSON without HTML escaping.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

// retryPolicy reads KBQA_MAX_RETRIES and KBQA_CALL_TIMEOUT.
func retryPolicy() (retry.Policy, error) {
	p := retry.DefaultPolicy()
	var err error
	if p.MaxRetries, err = config.Int("KBQA_MAX_RETRIES", p.MaxRetries); err != nil {
		return p, err
	}
	if p.CallTimeout, err = config.Duration("KBQA_CALL_TIMEOUT", p.CallTimeout); err != nil {
		return p, err
	}
	return p, nil
}

// buildEmbedder validates the embedding configuration and returns a
// retrying embedder for model.
func buildEmbedder(ctx context.Context, model string, policy retry.Policy) (rag.Embedder, error) {
	log := logging.FromContext(ctx)
	if err := embedder.Validate(log, model); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx, model)
	if err != nil {
		return nil, err
	}
	log.Info("embedder initialised",
		slog.String("backend", embedder.Backend()),
		slog.String("model", embedder.ResolveModel(model)),
	)
	return retry.WrapEmbedder(emb, policy), nil
}

// openQdrant connects to the Qdrant instance described by QDRANT_* env vars.
func openQdrant() (*rag.QdrantStore, error) {
	port, err := config.Int("QDRANT_PORT", 6334)
	if err != nil {
		return nil, err
	}
	return rag.NewQdrantStore(&rag.QdrantConfig{
		Host:       config.String("QDRANT_HOST", "localhost"),
		Port:       port,
		Collection: config.String("QDRANT_COLLECTION", "kbqa"),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     strings.EqualFold(os.Getenv("QDRANT_TLS"), "true"),
	})
}

// openHistory opens the ask log. KBQA_HISTORY_DB overrides the default path
// (~/.kbqa/history.db); "disabled" turns it off. Failures only disable the
// log. The returned store is nil when disabled and close is always safe.
func openHistory(log *slog.Logger) (*store.SQLiteStore, func()) {
	dbPath := os.Getenv("KBQA_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via KBQA_HISTORY_DB=disabled")
		return nil, func() {}
	}
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, func() {}
		}
		dbPath = p
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil, func() {}
	}
	log.Debug("history: store opened", slog.String("path", dbPath))
	return hs, func() { _ = hs.Close() }
}

// askOptions are the resolved settings shared by `kbqa ask` and `kbqa serve`.
type askOptions struct {
	IndexDir       string
	ChunksPath     string
	EmbeddingModel string
	Model          string
	Backend        string
	PromptPath     string
	TopK           int
	Threshold      float64
	Source         string
}

// addAskFlags registers the retrieval and synthesis flags on cmd.
func addAskFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("index-dir", defaultIndexDir, "Index directory (env KBQA_INDEX_DIR)")
	f.String("chunks-path", defaultChunksPath, "Chunk listing path (env KBQA_CHUNKS_PATH)")
	f.String("embedding-model", "", "Embedding model (env EMBEDDING_MODEL, default text-embedding-3-small for openai)")
	f.String("model", "", "Answer model (env OPENAI_MODEL etc., default gpt-4o-mini for openai)")
	f.String("backend", backendFlat, "Search backend: flat or qdrant (env KBQA_BACKEND)")
	f.String("prompt", "", "Answer prompt template file (env KBQA_PROMPT_PATH)")
	f.Int("topk", qa.DefaultTopK, "Number of chunks to retrieve, at least 1 (env KBQA_TOPK)")
	f.Float64("threshold", qa.DefaultThreshold, "Refusal threshold on the best score (env KBQA_THRESHOLD)")
}

// resolveAskOptions reads the flags registered by addAskFlags.
func resolveAskOptions(cmd *cobra.Command, source string) (askOptions, error) {
	o := askOptions{
		IndexDir:       stringOpt(cmd, "index-dir", "KBQA_INDEX_DIR"),
		ChunksPath:     stringOpt(cmd, "chunks-path", "KBQA_CHUNKS_PATH"),
		EmbeddingModel: stringOpt(cmd, "embedding-model", ""),
		Model:          stringOpt(cmd, "model", ""),
		Backend:        stringOpt(cmd, "backend", "KBQA_BACKEND"),
		PromptPath:     stringOpt(cmd, "prompt", "KBQA_PROMPT_PATH"),
		Source:         source,
	}
	var err error
	if o.TopK, err = intOpt(cmd, "topk", "KBQA_TOPK"); err != nil {
		return o, err
	}
	o.TopK = max(1, o.TopK)
	if o.Threshold, err = floatOpt(cmd, "threshold", "KBQA_THRESHOLD"); err != nil {
		return o, err
	}
	if o.Backend != backendFlat && o.Backend != backendQdrant {
		return o, fmt.Errorf("unknown backend %q, valid values: flat, qdrant: %w", o.Backend, rag.ErrInvalidArgument)
	}
	return o, nil
}

// askOptionAttrs renders the resolved flags for the audit record.
func askOptionAttrs(cmd *cobra.Command) []slog.Attr {
	o, err := resolveAskOptions(cmd, "")
	if err != nil {
		return nil
	}
	return []slog.Attr{
		slog.String("index_dir", o.IndexDir),
		slog.String("chunks_path", o.ChunksPath),
		slog.String("backend", o.Backend),
		slog.Int("topk", o.TopK),
		slog.Float64("threshold", o.Threshold),
	}
}

// askRuntime bundles what buildService wires up.
type askRuntime struct {
	service  *qa.Service
	searcher rag.Searcher     // flat index or Qdrant store
	qdrant   *rag.QdrantStore // non-nil for the qdrant backend
	closers  []func()
}

// Close releases everything buildService opened, in reverse order.
func (r *askRuntime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildService wires embedder, searcher, chat model, synthesizer and ask log
// into a qa.Service.
func buildService(ctx context.Context, o askOptions) (*askRuntime, error) {
	log := logging.FromContext(ctx)
	rt := &askRuntime{}

	policy, err := retryPolicy()
	if err != nil {
		return nil, err
	}

	emb, err := buildEmbedder(ctx, o.EmbeddingModel, policy)
	if err != nil {
		return nil, err
	}

	switch o.Backend {
	case backendQdrant:
		qs, err := openQdrant()
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = qs.Close() })
		rt.searcher, rt.qdrant = qs, qs
		log.Info("searcher: qdrant", slog.String("collection", qs.Collection()))
	default:
		idx, err := index.Load(ctx, o.IndexDir, o.ChunksPath)
		if err != nil {
			return nil, err
		}
		if m := idx.Manifest(); m != nil && m.EmbeddingModel != "" {
			if query := embedder.ResolveModel(o.EmbeddingModel); query != m.EmbeddingModel {
				log.Warn("index was built with a different embedding model",
					slog.String("index_model", m.EmbeddingModel),
					slog.String("query_model", query),
				)
			}
		}
		rt.searcher = idx
		log.Info("searcher: flat index", slog.Int("chunks", idx.Len()))
	}

	retriever, err := rag.NewRetriever(emb, rt.searcher)
	if err != nil {
		rt.Close()
		return nil, err
	}

	providerCfg := provider.ConfigFromEnv()
	providerCfg.SetModel(o.Model)
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	completer, err := provider.NewChatCompleter(chatModel)
	if err != nil {
		rt.Close()
		return nil, err
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.Model()),
	)

	tpl, err := answer.LoadTemplate(o.PromptPath)
	if err != nil {
		rt.Close()
		return nil, err
	}
	for _, p := range []string{answer.QuestionPlaceholder, answer.EvidencePlaceholder} {
		if !strings.Contains(tpl, p) {
			log.Warn("prompt template is missing a placeholder", slog.String("placeholder", p), slog.String("path", o.PromptPath))
		}
	}
	maxTokens, err := config.Int("KBQA_MAX_CONTEXT_TOKENS", budget.DefaultMaxContextTokens)
	if err != nil {
		rt.Close()
		return nil, err
	}
	synth, err := answer.NewSynthesizer(retry.WrapCompleter(completer, policy), answer.Options{
		Template:         tpl,
		MaxContextTokens: maxTokens,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	previewLen, err := config.Int("KBQA_PREVIEW_LEN", rag.DefaultPreviewLen)
	if err != nil {
		rt.Close()
		return nil, err
	}
	opts := qa.Options{
		TopK:       o.TopK,
		Threshold:  o.Threshold,
		PreviewLen: previewLen,
		Source:     o.Source,
	}
	hs, closeHistory := openHistory(log)
	rt.closers = append(rt.closers, closeHistory)
	if hs != nil {
		opts.Recorder = hs
	}

	svc, err := qa.NewService(retriever, synth, opts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = svc
	return rt, nil
}

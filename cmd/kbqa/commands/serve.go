package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/server"
	"github.com/54b3r/kbqa-go/internal/tracing"
)

// NewServeCmd constructs the `kbqa serve` command, which exposes the ask
// pipeline over HTTP.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kbqa HTTP API",
		Long: `Start the kbqa HTTP server.

Endpoints:
  POST /api/ask     {"question": "...", "topk": 5, "threshold": 0.35}
  GET  /api/health  liveness
  GET  /api/ready   index or Qdrant readiness
  GET  /metrics     Prometheus metrics

Set KBQA_API_KEY to require a Bearer token on /api/ask.

Examples:
  kbqa serve
  kbqa serve --port 9090 --index-dir ./data/index
  KBQA_API_KEY=secret kbqa serve --host 0.0.0.0`,
		Args: cobra.NoArgs,
		RunE: audited(serveAttrs, runServe),
	}

	cmd.Flags().String("host", "127.0.0.1", "Host address to bind to (env KBQA_HOST)")
	cmd.Flags().IntP("port", "p", 8080, "TCP port to listen on (env KBQA_PORT)")
	addAskFlags(cmd)
	return cmd
}

func serveAttrs(cmd *cobra.Command) []slog.Attr {
	attrs := askOptionAttrs(cmd)
	attrs = append(attrs, slog.String("host", stringOpt(cmd, "host", "KBQA_HOST")))
	if port, err := intOpt(cmd, "port", "KBQA_PORT"); err == nil {
		attrs = append(attrs, slog.Int("port", port))
	}
	return attrs
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log := logging.FromContext(ctx)

	opts, err := resolveAskOptions(cmd, "http")
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	host := stringOpt(cmd, "host", "KBQA_HOST")
	port, err := intOpt(cmd, "port", "KBQA_PORT")
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	rateLimit, err := config.Float("KBQA_RATE_LIMIT", 0)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	rateBurst, err := config.Int("KBQA_RATE_BURST", 0)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	flush := tracing.Install(log)
	defer flush()

	rt, err := buildService(ctx, opts)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer rt.Close()

	var pingers []server.Pinger
	if rt.qdrant != nil {
		pingers = append(pingers, server.NewQdrantPinger(rt.qdrant))
	} else {
		pingers = append(pingers, server.NewIndexPinger(opts.IndexDir, opts.ChunksPath))
	}

	srv, err := server.New(rt.service, &server.Config{
		Host:      host,
		Port:      port,
		Logger:    log,
		Pingers:   pingers,
		RateLimit: rateLimit,
		RateBurst: rateBurst,
		APIKey:    os.Getenv("KBQA_API_KEY"),
	})
	if err != nil {
		return fmt.Errorf("serve: failed to create server: %w", err)
	}
	return srv.Start(ctx)
}

package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/answerd/answerd/internal/chat"
	"github.com/answerd/answerd/internal/jobs"
	"github.com/answerd/answerd/internal/logging"
	"github.com/answerd/answerd/internal/provider"
	"github.com/answerd/answerd/internal/server"
	"github.com/answerd/answerd/internal/tracing"
)

// NewServeCmd constructs the `answerd serve` command, which starts the HTTP
// server exposing the sync and async answer API.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the answerd HTTP server",
		Long: `Start the answerd HTTP server.

The server exposes POST /chat/sync for blocking request/response answers,
POST /chat/async plus GET /chat/jobs/{job_id} for fire-and-poll answers
backed by a worker pool, and the usual /api/health, /api/ready, and
/metrics endpoints.

Examples:
  answerd serve
  answerd serve --port 9090
  MODEL_PROVIDER=openai QDRANT_HOST=localhost answerd serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Flags win over ANSWERD_HOST/ANSWERD_PORT, which in turn win
			// over the built-in defaults. Config-file values arrive via the
			// env layer applied in the root PersistentPreRunE.
			host := flagStringOrEnv(cmd, "host", "ANSWERD_HOST")
			port := flagIntOrEnv(cmd, "port", "ANSWERD_PORT")

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			retriever, qdrantStore, closeRetriever, err := buildRetriever(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeRetriever()

			dispatcher, err := chat.NewDispatcher(chatModel, retriever, envInt("ANSWERD_TOP_K", chat.DefaultTopK))
			if err != nil {
				return fmt.Errorf("serve: failed to initialise dispatcher: %w", err)
			}

			jobStore, err := buildJobStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = jobStore.Close() }()

			metrics := server.NewMetrics(prometheus.DefaultRegisterer)
			pool, err := jobs.NewPool(&jobs.PoolConfig{
				Store:      jobStore,
				Answerer:   dispatcher,
				Workers:    envInt("ANSWERD_WORKERS", 0),
				QueueSize:  envInt("ANSWERD_QUEUE_SIZE", 0),
				JobTimeout: envDuration("ANSWERD_JOB_TIMEOUT", 0),
				StuckAfter: envDuration("ANSWERD_STUCK_AFTER", 0),
				Logger:     log,
				Metrics:    metrics,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise worker pool: %w", err)
			}
			pool.Start(ctx)
			defer pool.Wait()

			pingers := []server.Pinger{
				server.NewModelPinger(chatModel, string(providerCfg.Backend)),
			}
			if qdrantStore != nil {
				pingers = append(pingers, server.NewQdrantPinger(qdrantStore))
			}
			if sqlite, isSQLite := jobStore.(*jobs.SQLiteStore); isSQLite {
				pingers = append(pingers, server.PingerFunc{Label: "jobstore", Fn: sqlite.Ping})
			}

			srv, err := server.New(dispatcher, pool, jobStore, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   pingers,
				APIKey:    os.Getenv("ANSWERD_API_KEY"),
				RateLimit: envFloat("ANSWERD_RATE_LIMIT", 0),
				RateBurst: envInt("ANSWERD_RATE_BURST", 0),
				Metrics:   metrics,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().String("host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntP("port", "p", 8080, "TCP port to listen on")

	return cmd
}

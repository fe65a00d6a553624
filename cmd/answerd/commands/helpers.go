package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/answerd/answerd/internal/embedder"
	"github.com/answerd/answerd/internal/jobs"
	"github.com/answerd/answerd/internal/rag"
)

// buildRetriever assembles the retrieval side of the pipeline from env
// configuration: the embedding client plus either a Qdrant-backed store
// (when QDRANT_HOST is set) or an empty in-process store. The returned
// cleanup function closes the store; the *rag.QdrantStore is nil when the
// in-process store is in use.
func buildRetriever(ctx context.Context, log *slog.Logger) (rag.Retriever, *rag.QdrantStore, func(), error) {
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("embedder: %w", err)
	}

	var store rag.VectorStore
	var qdrantStore *rag.QdrantStore

	if host := os.Getenv("QDRANT_HOST"); host != "" {
		backend := envOrDefault("EMBEDDING_PROVIDER", envOrDefault("MODEL_PROVIDER", "ollama"))
		dims := envInt("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions(backend))

		qdrantStore, err = rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       host,
			Port:       envInt("QDRANT_PORT", 6334),
			Collection: envOrDefault("QDRANT_COLLECTION", "answerd"),
			VectorSize: uint64(dims),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, nil, nil, err
		}
		store = qdrantStore
		log.Info("retrieval: qdrant store connected",
			slog.String("host", host),
			slog.String("collection", envOrDefault("QDRANT_COLLECTION", "answerd")),
		)
	} else {
		// No vector store configured: retrieval runs against an empty
		// in-process index and every answer is un-grounded.
		store = rag.NewMemoryStore()
		log.Warn("retrieval: QDRANT_HOST not set, using empty in-process store")
	}

	retriever, err := rag.NewRetriever(emb, store)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}

	return retriever, qdrantStore, func() { _ = store.Close() }, nil
}

// buildJobStore opens the job store selected by ANSWERD_JOB_STORE: "sqlite"
// for a durable store (path from ANSWERD_JOBS_DB, default ~/.answerd/jobs.db)
// or "memory" (the default).
func buildJobStore(log *slog.Logger) (jobs.Store, error) {
	switch envOrDefault("ANSWERD_JOB_STORE", "memory") {
	case "sqlite":
		path := os.Getenv("ANSWERD_JOBS_DB")
		if path == "" {
			var err error
			path, err = jobs.DefaultDBPath()
			if err != nil {
				return nil, err
			}
		}
		store, err := jobs.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		log.Info("jobs: sqlite store opened", slog.String("path", path))
		return store, nil
	case "memory":
		log.Info("jobs: using in-memory store")
		return jobs.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("jobs: unknown store %q (expected memory or sqlite)", os.Getenv("ANSWERD_JOB_STORE"))
	}
}

// flagStringOrEnv resolves a string setting in precedence order: a flag
// set on the command line, then the env var, then the flag's default.
// Config files feed in through the env layer (see internal/config).
func flagStringOrEnv(cmd *cobra.Command, name, envKey string) string {
	v, _ := cmd.Flags().GetString(name)
	if cmd.Flags().Changed(name) {
		return v
	}
	return envOrDefault(envKey, v)
}

// flagIntOrEnv resolves an int setting with the same precedence as
// flagStringOrEnv. An explicit flag or env value of zero is taken
// literally, not treated as unset.
func flagIntOrEnv(cmd *cobra.Command, name, envKey string) int {
	v, _ := cmd.Flags().GetInt(name)
	if cmd.Flags().Changed(name) {
		return v
	}
	return envInt(envKey, v)
}

// envOrDefault returns the env var value or fallback when unset/empty.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the env var parsed as int, or fallback when unset or invalid.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envFloat returns the env var parsed as float64, or fallback when unset or invalid.
func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// envDuration returns the env var parsed as a Go duration, or fallback when
// unset or invalid.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

package server

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/answerd/answerd/internal/rag"
)

// QdrantPinger probes the Qdrant vector store backing retrieval. It
// satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// store is the vector store to probe.
	store *rag.QdrantStore
}

// NewQdrantPinger constructs a QdrantPinger for the given store.
func NewQdrantPinger(store *rag.QdrantStore) *QdrantPinger {
	return &QdrantPinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC through the store.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// ModelPinger probes an LLM backend by sending a minimal generate request.
// Each probe consumes a few tokens, so readiness checks against paid
// backends should be scraped sparingly.
type ModelPinger struct {
	// model is the chat model to probe.
	model model.ToolCallingChatModel
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewModelPinger constructs a ModelPinger for the given model and backend name.
func NewModelPinger(m model.ToolCallingChatModel, name string) *ModelPinger {
	return &ModelPinger{model: m, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *ModelPinger) Name() string { return p.name }

// Ping sends a single "ping" message and checks for a non-nil response.
func (p *ModelPinger) Ping(ctx context.Context) error {
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// PingerFunc adapts a plain function into a Pinger, for dependencies that
// expose a ping method but no dedicated probe type (e.g. the SQLite job
// store).
type PingerFunc struct {
	// Label is the dependency name used in readiness responses.
	Label string
	// Fn performs the probe.
	Fn func(ctx context.Context) error
}

// Name returns the dependency label used in readiness responses.
func (p PingerFunc) Name() string { return p.Label }

// Ping invokes the wrapped probe function.
func (p PingerFunc) Ping(ctx context.Context) error { return p.Fn(ctx) }

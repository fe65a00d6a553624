// Package rag defines the retrieval-augmented generation building blocks:
// the embedding and vector-search capability interfaces, the retriever that
// combines them, and the context assembler that turns retrieved documents
// into a grounding string for the model prompt. Concrete backends (Qdrant,
// in-memory) satisfy these interfaces so the chat layer never depends on a
// specific store.
package rag

import (
	"context"
	"errors"
)

// ErrEmbedding marks a failure of the embedding capability. It is fatal to
// the request: a broken embedding usually means the query itself is
// malformed, so callers must not degrade to an empty context.
var ErrEmbedding = errors.New("embedding failed")

// ErrRetrieval marks a failure of the vector-search capability (index
// unreachable). Callers may treat it as degradable and proceed ungrounded.
var ErrRetrieval = errors.New("retrieval failed")

// Document is a unit of retrieved knowledge.
type Document struct {
	// ID is the unique identifier for this document chunk.
	ID string

	// Content is the raw text content of the chunk.
	Content string

	// Source is the origin URI or file path of the document.
	Source string

	// Metadata holds arbitrary key-value pairs attached at indexing time.
	Metadata map[string]string

	// Score is the similarity score reported by the search backend.
	// The scale depends on the embedding space; only relative ordering
	// is meaningful.
	Score float32
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore performs similarity search over a pre-indexed document
// collection. Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Search returns the top-k most relevant documents for the query
	// embedding, ordered by descending similarity score.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error)

	// Close releases any resources held by the store.
	Close() error
}

// Retriever fetches relevant grounding documents for a query.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the top-k most relevant documents for the given query.
	Retrieve(ctx context.Context, query string, topK int) ([]Document, error)
}

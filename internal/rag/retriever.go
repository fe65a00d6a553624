package rag

import (
	"context"
	"fmt"
)

// DefaultRetriever implements Retriever by combining an Embedder and a
// VectorStore: it embeds the query at retrieval time and delegates
// similarity search to the store. Results are returned in store order
// (descending score) without re-ranking.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and
// VectorStore.
func NewRetriever(embedder Embedder, store VectorStore) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	return &DefaultRetriever{embedder: embedder, store: store}, nil
}

// Retrieve embeds the query and returns the top-k most relevant documents.
// topK <= 0 short-circuits to an empty result without touching the embedding
// or search backends. Embedding failures wrap ErrEmbedding; search failures
// wrap ErrRetrieval, so callers can tell a malformed query apart from an
// unreachable index.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Document, error) {
	if topK <= 0 {
		return []Document{}, nil
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: %w: %w", ErrEmbedding, err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: %w: embedder returned no vector for query", ErrEmbedding)
	}

	docs, err := r.store.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: %w: %w", ErrRetrieval, err)
	}

	return docs, nil
}

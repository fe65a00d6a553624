package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a brute-force cosine-similarity VectorStore held entirely
// in process memory. It backs deployments that run without Qdrant and the
// package's own tests. Safe for concurrent use.
type MemoryStore struct {
	// mu guards docs and vectors.
	mu sync.RWMutex

	// docs holds the stored documents, parallel to vectors.
	docs []Document

	// vectors holds the embedding for each document.
	vectors [][]float32
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add stores documents with their pre-computed embeddings. The embeddings
// slice must be parallel to docs.
func (s *MemoryStore) Add(docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("memorystore: %d documents but %d embeddings", len(docs), len(embeddings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, docs...)
	s.vectors = append(s.vectors, embeddings...)
	return nil
}

// Search returns the top-k documents by cosine similarity to the query
// embedding, in descending score order. Ties keep insertion order.
func (s *MemoryStore) Search(_ context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		idx   int
		score float32
	}

	ranked := make([]scored, 0, len(s.docs))
	for i, v := range s.vectors {
		ranked = append(ranked, scored{idx: i, score: cosine(v, queryEmbedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if topK > len(ranked) {
		topK = len(ranked)
	}
	out := make([]Document, 0, topK)
	for _, r := range ranked[:topK] {
		doc := s.docs[r.idx]
		doc.Score = r.score
		out = append(out, doc)
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// cosine computes the cosine similarity of two vectors. Mismatched lengths
// are compared over the shorter prefix; zero vectors score zero.
func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

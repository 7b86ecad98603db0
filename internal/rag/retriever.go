package rag

import (
	"context"
	"fmt"
)

// VectorRetriever combines an Embedder and a VectorStore. It embeds the query
// at retrieval time and delegates similarity search to the store.
type VectorRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore
}

// NewVectorRetriever constructs a VectorRetriever from the given Embedder and
// VectorStore.
func NewVectorRetriever(embedder Embedder, store VectorStore) (*VectorRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	return &VectorRetriever{embedder: embedder, store: store}, nil
}

// SearchText embeds query and returns the topK nearest chunks. Embedding and
// search faults are returned to the caller unchanged in kind.
func (r *VectorRetriever) SearchText(ctx context.Context, query string, topK int) ([]SearchHit, error) {
	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	hits, err := r.store.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return hits, nil
}

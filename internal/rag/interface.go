// Package rag defines the corpus types and backend interfaces shared by the
// retrieval stack: chunks, scored hits, the embedding backend and the vector
// store. Concrete implementations (Qdrant, OpenAI/Ollama embedders) satisfy
// these interfaces so the agent layer never depends on a specific backend.
package rag

import (
	"context"
)

// Chunk is an immutable unit of retrievable text with its provenance.
// It is produced by the ingestion pipeline and read-only thereafter.
type Chunk struct {
	// Text is the raw chunk content.
	Text string `json:"text"`
	// Source identifies the document the chunk was cut from.
	Source string `json:"source"`
	// Page is the 1-based page number, or 0 when the source is not paginated.
	Page int `json:"page"`
	// ChunkIndex is the chunk's position within its source.
	ChunkIndex int `json:"chunk_index"`
}

// SearchHit is a scored reference to a chunk returned by a single backend.
type SearchHit struct {
	// Text is the chunk content.
	Text string `json:"text"`
	// Source is the chunk's document identifier.
	Source string `json:"source"`
	// Page is the chunk's page number (0 if not paginated).
	Page int `json:"page"`
	// Score is the backend-specific relevance score. Higher is better.
	Score float64 `json:"score"`
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the interface for persisting and searching chunk embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Search returns up to topK hits ordered by descending similarity.
	Search(ctx context.Context, queryVector []float32, topK int) ([]SearchHit, error)

	// Recreate drops any existing collection and creates an empty one sized
	// for vectors of the given dimension.
	Recreate(ctx context.Context, dimension int) error

	// Insert stores chunks with their pre-computed vectors. vectors must be
	// parallel to chunks.
	Insert(ctx context.Context, chunks []Chunk, vectors [][]float32) error

	// RowCount returns the number of stored vectors.
	RowCount(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

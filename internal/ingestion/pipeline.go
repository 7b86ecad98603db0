// Package ingestion builds the retrieval corpus. It splits plain-text and
// markdown files into chunks, writes the chunk JSONL consumed by the keyword
// index, and rebuilds the vector collection from those chunks. It is invoked
// by the `ragent index` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/ragent-go/internal/rag"
)

// Defaults applied by NewPipeline.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
	DefaultBatchSize    = 64
)

// supportedExts lists the file extensions BuildChunks reads.
var supportedExts = []string{".txt", ".md", ".markdown"}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Clamped to ChunkSize-1.
	ChunkOverlap int

	// BatchSize is the number of chunks embedded per request.
	// Defaults to 64 if zero.
	BatchSize int
}

// Stats summarizes one rebuild.
type Stats struct {
	// FileCount is the number of source files read (0 when rebuilding from
	// an existing chunks file).
	FileCount int `json:"file_count"`
	// ChunkCount is the number of chunks embedded and inserted.
	ChunkCount int `json:"chunk_count"`
	// Dimension is the embedding dimension fixed by the first batch.
	Dimension int `json:"embedding_dim"`
	// RowCount is the collection size reported after insertion.
	RowCount int `json:"row_count"`
}

// Pipeline orchestrates the chunk → embed → insert flow.
type Pipeline struct {
	// embedder converts chunk text into vectors.
	embedder rag.Embedder
	// store receives the vectors.
	store rag.VectorStore
	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Pipeline{embedder: embedder, store: store, cfg: cfg}, nil
}

// Rebuild embeds chunks in batches and replaces the vector collection with
// them. The first batch fixes the dimension; the collection is recreated
// only after that batch succeeds, so an unreachable embedder leaves the
// existing index intact. Progress is reported via the optional callback.
func (p *Pipeline) Rebuild(ctx context.Context, chunks []rag.Chunk, progress func(msg string)) (*Stats, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ingestion: no chunks to index")
	}

	stats := &Stats{}
	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ingestion: %w", err)
		}
		end := min(start+p.cfg.BatchSize, len(chunks))
		batch := chunks[start:end]

		vectors, err := p.embedder.Embed(ctx, embeddingInputs(batch))
		if err != nil {
			return nil, fmt.Errorf("ingestion: embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("ingestion: embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		if stats.Dimension == 0 {
			stats.Dimension = len(vectors[0])
			if stats.Dimension == 0 {
				return nil, fmt.Errorf("ingestion: embedder returned empty vectors")
			}
			if err := p.store.Recreate(ctx, stats.Dimension); err != nil {
				return nil, fmt.Errorf("ingestion: recreate collection: %w", err)
			}
			progress(fmt.Sprintf("recreated collection (dim=%d)", stats.Dimension))
		}
		for i, v := range vectors {
			if len(v) != stats.Dimension {
				return nil, fmt.Errorf("ingestion: chunk %d has dimension %d, want %d", start+i, len(v), stats.Dimension)
			}
		}

		if err := p.store.Insert(ctx, batch, vectors); err != nil {
			return nil, fmt.Errorf("ingestion: insert chunks %d-%d: %w", start, end-1, err)
		}
		stats.ChunkCount += len(batch)
		progress(fmt.Sprintf("indexed %d/%d chunks", stats.ChunkCount, len(chunks)))
	}

	rows, err := p.store.RowCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingestion: row count: %w", err)
	}
	stats.RowCount = rows
	return stats, nil
}

// BuildChunks walks root and splits every supported file into chunks. The
// returned file count includes files that produced no chunks. Sources are
// recorded relative to root with forward slashes.
func (p *Pipeline) BuildChunks(root string) ([]rag.Chunk, int, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && slices.Contains(supportedExts, strings.ToLower(filepath.Ext(path))) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("ingestion: walk %s: %w", root, err)
	}
	slices.Sort(files)

	var chunks []rag.Chunk
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("ingestion: read %s: %w", path, err)
		}
		if !utf8.Valid(data) {
			return nil, 0, fmt.Errorf("ingestion: %s is not valid UTF-8", path)
		}
		source := path
		if rel, err := filepath.Rel(root, path); err == nil {
			source = filepath.ToSlash(rel)
		}
		for i, piece := range SplitText(string(data), p.cfg.ChunkSize, p.cfg.ChunkOverlap) {
			chunks = append(chunks, rag.Chunk{Text: piece, Source: source, ChunkIndex: i})
		}
	}
	return chunks, len(files), nil
}

// SplitText cuts text into windows of at most size characters, each starting
// size-overlap characters after the previous one. Windows are trimmed and
// empty windows are dropped. overlap is clamped to [0, size-1].
func SplitText(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 || size <= 0 {
		return nil
	}
	overlap = max(0, min(overlap, size-1))
	step := size - overlap

	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// embeddingInputs flattens newlines so embedding requests see single-line
// text.
func embeddingInputs(chunks []rag.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = strings.TrimSpace(strings.ReplaceAll(c.Text, "\n", " "))
	}
	return out
}

package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragent-go/internal/config"
	"github.com/54b3r/ragent-go/internal/embedder"
	"github.com/54b3r/ragent-go/internal/ingestion"
	"github.com/54b3r/ragent-go/internal/logging"
	"github.com/54b3r/ragent-go/internal/rag"
)

// NewIndexCmd constructs the `ragent index` command, which rebuilds the
// vector collection from the chunk corpus.
func NewIndexCmd() *cobra.Command {
	var (
		chunksPath string
		fromDir    string
		cfg        ingestion.Config
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the vector index from the chunk corpus",
		Long: `Embed every chunk of the corpus and replace the Qdrant collection with the
result. The collection is recreated with the dimension of the first embedded
batch.

With --from, the .txt and .md files under the directory are split into chunks
first and written to the chunks file, which also feeds the keyword index.

Environment:
  CHUNKS_PATH          chunk corpus (default: data/processed/chunks.jsonl)
  QDRANT_HOST/PORT     Qdrant gRPC endpoint (default: localhost:6334)
  QDRANT_COLLECTION    collection name (default: ragent-chunks)
  EMBEDDING_*          embedding backend overrides

Examples:
  ragent index
  ragent index --from ./data/raw --chunk-size 800 --chunk-overlap 120`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if chunksPath == "" {
				settings, err := config.SettingsFromEnv()
				if err != nil {
					return fmt.Errorf("index: %w", err)
				}
				chunksPath = settings.ChunksPath
			}

			embCfg := embedder.ConfigFromEnv()
			if err := embedder.Preflight(log, embCfg); err != nil {
				return fmt.Errorf("index: %w", err)
			}
			emb, err := embedder.New(ctx, embCfg)
			if err != nil {
				return fmt.Errorf("index: failed to initialise embedder: %w", err)
			}

			vectors, err := rag.NewQdrantStore(qdrantConfigFromEnv())
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer vectors.Close()

			pipeline, err := ingestion.NewPipeline(emb, vectors, &cfg)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			var (
				chunks []rag.Chunk
				files  int
			)
			if fromDir != "" {
				chunks, files, err = pipeline.BuildChunks(fromDir)
				if err != nil {
					return fmt.Errorf("index: %w", err)
				}
				if err := rag.WriteChunks(chunksPath, chunks); err != nil {
					return fmt.Errorf("index: %w", err)
				}
				log.Info("chunks written",
					slog.String("path", chunksPath),
					slog.Int("files", files),
					slog.Int("chunks", len(chunks)))
			} else {
				var skipped int
				chunks, skipped, err = rag.LoadChunks(chunksPath)
				if err != nil {
					return fmt.Errorf("index: %w", err)
				}
				if skipped > 0 {
					log.Warn("skipped malformed chunk lines", slog.Int("skipped", skipped))
				}
			}

			stats, err := pipeline.Rebuild(ctx, chunks, func(msg string) { log.Info(msg) })
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			stats.FileCount = files

			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks from %d files (dim=%d, rows=%d) via %s\n",
				stats.ChunkCount, stats.FileCount, stats.Dimension, stats.RowCount, chunksPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&chunksPath, "chunks", "", "Chunk corpus JSONL (default: CHUNKS_PATH)")
	cmd.Flags().StringVar(&fromDir, "from", "", "Split .txt/.md files under this directory into the chunks file first")
	cmd.Flags().IntVar(&cfg.ChunkSize, "chunk-size", ingestion.DefaultChunkSize, "Characters per chunk (with --from)")
	cmd.Flags().IntVar(&cfg.ChunkOverlap, "chunk-overlap", ingestion.DefaultChunkOverlap, "Characters shared by consecutive chunks (with --from)")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", ingestion.DefaultBatchSize, "Chunks embedded per request")

	return cmd
}

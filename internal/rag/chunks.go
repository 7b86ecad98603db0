package rag

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultChunksFile is the file name of the chunk corpus inside a processed
// data directory.
const DefaultChunksFile = "chunks.jsonl"

// maxChunkLine bounds a single JSONL record. Chunks are small; this only
// guards against a corrupt file.
const maxChunkLine = 16 << 20

// ReadChunks decodes one JSON object per line from r. Blank lines and lines
// that fail to decode are skipped and counted in skipped.
func ReadChunks(r io.Reader) (chunks []Chunk, skipped int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxChunkLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var c Chunk
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			skipped++
			continue
		}
		chunks = append(chunks, c)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("rag: read chunks: %w", err)
	}
	return chunks, skipped, nil
}

// LoadChunks reads the chunk corpus at path. A missing file is reported with
// an error wrapping fs.ErrNotExist so callers can fall back to vector-only
// mode.
func LoadChunks(path string) ([]Chunk, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("rag: chunks file %s: %w", path, fs.ErrNotExist)
		}
		return nil, 0, fmt.Errorf("rag: open chunks file %s: %w", path, err)
	}
	defer f.Close()
	return ReadChunks(f)
}

// WriteChunks writes chunks to path as JSONL, creating parent directories.
func WriteChunks(path string, chunks []Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("rag: create dir for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rag: create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			_ = f.Close()
			return fmt.Errorf("rag: encode chunk: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("rag: flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("rag: close %s: %w", path, err)
	}
	return nil
}

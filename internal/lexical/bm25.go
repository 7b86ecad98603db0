// Package lexical provides an in-memory BM25 index over the chunk corpus.
// It is built once at startup and read-only afterwards, so concurrent
// searches need no locking.
package lexical

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/54b3r/ragent-go/internal/rag"
)

// BM25 parameters.
const (
	k1 = 1.5
	b  = 0.75
)

// tokenRe matches ASCII word runs and single CJK ideographs.
var tokenRe = regexp.MustCompile(`[A-Za-z0-9_]+|[\x{4e00}-\x{9fff}]`)

// Tokenize lowercases text and splits it into ASCII word tokens and
// individual CJK characters.
func Tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// document is one indexed chunk with its term frequencies.
type document struct {
	chunk rag.Chunk
	tf    map[string]int
	len   int
}

// Index is a BM25 keyword index. A nil *Index is valid and returns no hits.
type Index struct {
	docs  []document
	df    map[string]int
	avgDL float64
}

// New builds an index over chunks. Chunks that produce no tokens are skipped.
// It returns nil when no chunk is indexable.
func New(chunks []rag.Chunk) *Index {
	idx := &Index{df: make(map[string]int)}
	total := 0
	for _, c := range chunks {
		toks := Tokenize(c.Text)
		if len(toks) == 0 {
			continue
		}
		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		for t := range tf {
			idx.df[t]++
		}
		idx.docs = append(idx.docs, document{chunk: c, tf: tf, len: len(toks)})
		total += len(toks)
	}
	if len(idx.docs) == 0 {
		return nil
	}
	idx.avgDL = float64(total) / float64(len(idx.docs))
	return idx
}

// Load reads the chunk corpus at path and indexes it. A missing file or an
// empty corpus yields (nil, nil) so callers run vector-only.
func Load(path string) (*Index, error) {
	chunks, _, err := rag.LoadChunks(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("lexical: %w", err)
	}
	return New(chunks), nil
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.docs)
}

// Search returns up to max(1, topK) chunks with a positive BM25 score, best
// first. Ties keep corpus order. Repeated query terms boost their weight by
// 1+ln(1+count).
func (idx *Index) Search(query string, topK int) []rag.SearchHit {
	if idx == nil {
		return nil
	}
	qtf := make(map[string]int)
	var terms []string
	for _, t := range Tokenize(query) {
		if qtf[t] == 0 {
			terms = append(terms, t)
		}
		qtf[t]++
	}
	if len(terms) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	avg := math.Max(idx.avgDL, 1)

	type scored struct {
		id    int
		score float64
	}
	var results []scored
	for id, d := range idx.docs {
		score := 0.0
		for _, t := range terms {
			tf := d.tf[t]
			if tf == 0 {
				continue
			}
			df := float64(idx.df[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			ftf := float64(tf)
			norm := ftf + k1*(1-b+b*float64(d.len)/avg)
			score += idf * ftf * (k1 + 1) / norm * (1 + math.Log(1+float64(qtf[t])))
		}
		if score > 0 {
			results = append(results, scored{id: id, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	limit := max(1, topK)
	if len(results) > limit {
		results = results[:limit]
	}
	hits := make([]rag.SearchHit, 0, len(results))
	for _, r := range results {
		c := idx.docs[r.id].chunk
		hits = append(hits, rag.SearchHit{Text: c.Text, Source: c.Source, Page: c.Page, Score: r.score})
	}
	return hits
}

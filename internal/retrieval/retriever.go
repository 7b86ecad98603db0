// Package retrieval implements hybrid retrieval: vector and BM25 candidates
// are fused by normalized score, then optionally reordered by a rerank
// service. Rerank problems degrade to the fused order and never fail a call.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/54b3r/ragent-go/internal/lexical"
	"github.com/54b3r/ragent-go/internal/rag"
	"github.com/54b3r/ragent-go/internal/rerank"
)

// Default retrieval widths and fusion weights.
const (
	DefaultTopK          = 4
	DefaultCandidateK    = 12
	DefaultVectorWeight  = 0.6
	DefaultKeywordWeight = 0.4
)

// Hit is a retrieved chunk. VectorScore is the candidate score used to
// select it (the fused score when both sources contributed). RerankScore is
// set only when the rerank service ordered the result.
type Hit struct {
	Text        string   `json:"text"`
	Source      string   `json:"source"`
	Page        int      `json:"page"`
	VectorScore float64  `json:"vector_score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// Score returns the rerank score when present, else the vector score.
func (h Hit) Score() float64 {
	if h.RerankScore != nil {
		return *h.RerankScore
	}
	return h.VectorScore
}

// Params are the per-call retrieval widths and fusion weights.
type Params struct {
	// TopK is the number of final hits.
	TopK int
	// CandidateK is the candidate pool size fetched from each source.
	CandidateK int
	// VectorWeight weights the normalized vector score during fusion.
	VectorWeight float64
	// KeywordWeight weights the normalized BM25 score during fusion.
	KeywordWeight float64
}

// DefaultParams returns the default widths and weights.
func DefaultParams() Params {
	return Params{
		TopK:          DefaultTopK,
		CandidateK:    DefaultCandidateK,
		VectorWeight:  DefaultVectorWeight,
		KeywordWeight: DefaultKeywordWeight,
	}
}

// Result is the outcome of one retrieval.
type Result struct {
	VectorHits      []Hit
	KeywordHits     []Hit
	FinalHits       []Hit
	RerankerApplied bool
	RerankerMessage string
}

// Retriever is the interface the retrieve tool depends on.
type Retriever interface {
	Retrieve(ctx context.Context, query string, p Params) (*Result, error)
}

// VectorSearcher embeds a query and returns its nearest chunks.
// rag.VectorRetriever satisfies it.
type VectorSearcher interface {
	SearchText(ctx context.Context, query string, topK int) ([]rag.SearchHit, error)
}

// Hybrid fuses vector and lexical candidates and reranks them.
type Hybrid struct {
	vector   VectorSearcher
	keywords *lexical.Index
	reranker rerank.Reranker
}

// NewHybrid returns a Hybrid retriever. keywords may be nil for vector-only
// retrieval; reranker may be nil, in which case reranking is reported as not
// configured.
func NewHybrid(vector VectorSearcher, keywords *lexical.Index, reranker rerank.Reranker) (*Hybrid, error) {
	if vector == nil {
		return nil, fmt.Errorf("retrieval: vector searcher must not be nil")
	}
	return &Hybrid{vector: vector, keywords: keywords, reranker: reranker}, nil
}

// Retrieve runs hybrid retrieval for query. Embedding and vector search
// failures are returned as errors; rerank failures are not.
func (r *Hybrid) Retrieve(ctx context.Context, query string, p Params) (*Result, error) {
	topK := max(p.TopK, 1)
	candidateK := max(topK, p.CandidateK)

	vec, err := r.vector.SearchText(ctx, query, candidateK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	var kw []rag.SearchHit
	if r.keywords != nil {
		kw = r.keywords.Search(query, candidateK)
	}

	res := &Result{VectorHits: toHits(vec), KeywordHits: toHits(kw)}
	candidates := Fuse(vec, kw, p.VectorWeight, p.KeywordWeight, candidateK)
	if len(candidates) == 0 {
		res.RerankerMessage = "no candidate hits"
		return res, nil
	}

	var rr rerank.Result
	if r.reranker != nil {
		rr = r.reranker.Rerank(ctx, query, candidates, topK)
	} else {
		rr = rerank.Result{Message: "reranker not configured"}
	}

	if rr.Applied && len(rr.Items) > 0 {
		items := rr.Items[:min(len(rr.Items), topK)]
		res.FinalHits = make([]Hit, 0, len(items))
		for _, it := range items {
			score := it.Score
			h := toHit(it.Hit)
			h.RerankScore = &score
			res.FinalHits = append(res.FinalHits, h)
		}
		res.RerankerApplied = true
		res.RerankerMessage = rr.Message
		return res, nil
	}

	res.FinalHits = toHits(candidates[:min(len(candidates), topK)])
	res.RerankerMessage = rr.Message
	return res, nil
}

// Fuse merges vector and keyword hits into at most limit candidates. When
// only one source has hits it is returned unchanged (truncated to limit).
// Otherwise entries are merged on (source, page, text), each score column is
// min-max normalized, and the weighted sum orders the result. Ties keep
// first-seen order with vector hits first.
func Fuse(vector, keyword []rag.SearchHit, vectorWeight, keywordWeight float64, limit int) []rag.SearchHit {
	limit = max(limit, 1)
	switch {
	case len(vector) == 0 && len(keyword) == 0:
		return nil
	case len(keyword) == 0:
		return head(vector, limit)
	case len(vector) == 0:
		return head(keyword, limit)
	}

	type key struct {
		source string
		page   int
		text   string
	}
	type entry struct {
		hit     rag.SearchHit
		vScore  float64
		kwScore float64
	}
	index := make(map[key]int)
	var merged []entry
	add := func(h rag.SearchHit, isVector bool) {
		k := key{h.Source, h.Page, h.Text}
		i, ok := index[k]
		if !ok {
			i = len(merged)
			index[k] = i
			merged = append(merged, entry{hit: h})
		}
		if isVector {
			merged[i].vScore = h.Score
		} else {
			merged[i].kwScore = h.Score
		}
	}
	for _, h := range vector {
		add(h, true)
	}
	for _, h := range keyword {
		add(h, false)
	}

	vs := make([]float64, len(merged))
	ks := make([]float64, len(merged))
	for i, e := range merged {
		vs[i], ks[i] = e.vScore, e.kwScore
	}
	vn, kn := normalize(vs), normalize(ks)
	wv, wk := weights(vectorWeight, keywordWeight)

	out := make([]rag.SearchHit, len(merged))
	for i, e := range merged {
		h := e.hit
		h.Score = wv*vn[i] + wk*kn[i]
		out[i] = h
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return head(out, limit)
}

// normalize min-max scales values. A column whose max is 0 maps to all
// zeros; a constant nonzero column maps to all ones.
func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	switch {
	case hi == 0:
		return out
	case hi == lo:
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// weights clamps negative weights to zero and rescales them to sum to 1.
// Both non-positive means vector only.
func weights(vector, keyword float64) (float64, float64) {
	vector, keyword = max(vector, 0), max(keyword, 0)
	sum := vector + keyword
	if sum <= 0 {
		return 1, 0
	}
	return vector / sum, keyword / sum
}

func head(hits []rag.SearchHit, n int) []rag.SearchHit {
	if len(hits) <= n {
		return hits
	}
	return hits[:n]
}

func toHit(h rag.SearchHit) Hit {
	return Hit{Text: h.Text, Source: h.Source, Page: h.Page, VectorScore: h.Score}
}

func toHits(hits []rag.SearchHit) []Hit {
	if len(hits) == 0 {
		return nil
	}
	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = toHit(h)
	}
	return out
}

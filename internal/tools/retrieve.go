package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragent-go/internal/memory"
	"github.com/54b3r/ragent-go/internal/retrieval"
)

// snippetLen is the number of characters of hit text shown per observation
// line.
const snippetLen = 120

// RetrieveFunc performs a retrieval for query. It overrides the context's
// Retriever when set on a RetrieveTool.
type RetrieveFunc func(ctx context.Context, query string) (*retrieval.Result, error)

// RetrieveTool searches the corpus with the hybrid retriever.
type RetrieveTool struct {
	// fn overrides Context.Retriever when non-nil.
	fn RetrieveFunc
}

// NewRetrieveTool returns a RetrieveTool that uses Context.Retriever.
func NewRetrieveTool() *RetrieveTool { return &RetrieveTool{} }

// NewRetrieveToolWithFunc returns a RetrieveTool backed by fn.
func NewRetrieveToolWithFunc(fn RetrieveFunc) *RetrieveTool { return &RetrieveTool{fn: fn} }

// Name returns the tool name.
func (t *RetrieveTool) Name() Name { return Retrieve }

// Description returns the LLM-facing description.
func (t *RetrieveTool) Description() string {
	return "Searches the document corpus and returns the most relevant passages with their source and page."
}

// Info returns the eino tool metadata.
func (t *RetrieveTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return info(t, "Search query. Use "+UseQuestion+" to search with the original question."), nil
}

// Run retrieves passages for input, or for the original question when input
// is empty or the placeholder.
func (t *RetrieveTool) Run(ctx context.Context, input string, tc *Context) (*Output, error) {
	query := strings.TrimSpace(input)
	if IsQuestionPlaceholder(query) {
		query = tc.Question
	}

	var (
		res *retrieval.Result
		err error
	)
	switch {
	case t.fn != nil:
		res, err = t.fn(ctx, query)
	case tc.Retriever != nil:
		res, err = tc.Retriever.Retrieve(ctx, query, tc.Params)
	default:
		return nil, fmt.Errorf("retrieve: no retriever configured")
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	observation := formatHits(res.FinalHits)
	texts := make([]string, len(res.FinalHits))
	for i, h := range res.FinalHits {
		texts[i] = h.Text
	}
	retrievalText := strings.Join(texts, "\n")
	refs := append([]retrieval.Hit{}, res.FinalHits...)

	return &Output{
		Observation: observation,
		References:  refs,
		MemoryDelta: memory.Delta{
			LastRetrievalQuery:  memory.Ptr(query),
			LastRetrievalText:   memory.Ptr(retrievalText),
			LastReferences:      refs,
			LastRerankerApplied: memory.Ptr(res.RerankerApplied),
			LastRerankerMessage: memory.Ptr(res.RerankerMessage),
			ToolObservations:    map[string]string{string(Retrieve): observation},
		},
		Metadata: Metadata{
			Retrieval: &RetrievalMeta{
				Text:            retrievalText,
				RerankerApplied: res.RerankerApplied,
				RerankerMessage: res.RerankerMessage,
			},
		},
	}, nil
}

// formatHits renders one line per hit, or "no hits".
func formatHits(hits []retrieval.Hit) string {
	if len(hits) == 0 {
		return "no hits"
	}
	lines := make([]string, len(hits))
	for i, h := range hits {
		scoreName := "v_score"
		if h.RerankScore != nil {
			scoreName = "r_score"
		}
		lines[i] = fmt.Sprintf("[%d] %s page=%d %s=%.4f text=%s",
			i+1, h.Source, h.Page, scoreName, h.Score(), Snippet(h.Text, snippetLen))
	}
	return strings.Join(lines, "\n")
}

// Snippet collapses whitespace in s and returns at most n characters.
func Snippet(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

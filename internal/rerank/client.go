// Package rerank implements a client for OpenAI-style cross-encoder rerank
// HTTP services. Any failure is reported through Result.Message rather than
// an error so callers can fall back to their own ordering.
package rerank

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/54b3r/ragent-go/internal/rag"
)

// DefaultTimeout is the per-request timeout when Config.Timeout is zero.
const DefaultTimeout = 20 * time.Second

// bodyPreview bounds how much of an error response body ends up in Message.
const bodyPreview = 180

// Reranker reorders candidate hits against a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []rag.SearchHit, topK int) Result
}

// Item is a candidate hit with the score assigned by the rerank service.
type Item struct {
	// Hit is the original candidate.
	Hit rag.SearchHit
	// Score is the service's relevance score.
	Score float64
}

// Result is the outcome of one rerank attempt.
type Result struct {
	// Applied is true when Items carries a usable ordering.
	Applied bool
	// Message describes the endpoint used or the last failure.
	Message string
	// Items are ordered by descending Score with unique candidate indices.
	Items []Item
}

// Config holds connection parameters for the rerank service.
type Config struct {
	// BaseURL is the service root, with or without a trailing /v1.
	BaseURL string
	// APIKey is sent as a Bearer token.
	APIKey string
	// Model is the rerank model name.
	Model string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// Client is an HTTP rerank client. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *resty.Client
}

// New returns a Client for cfg. Whitespace and trailing slashes are trimmed.
func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: resty.New().SetTimeout(cfg.Timeout),
	}
}

// Enabled reports whether URL, key and model are all configured.
func (c *Client) Enabled() bool {
	return c.cfg.BaseURL != "" && c.cfg.APIKey != "" && c.cfg.Model != ""
}

// request is the JSON body sent to the rerank endpoint.
type request struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

// Rerank asks the service to order hits for query. Endpoints are tried in
// order until one yields a usable ranking.
func (c *Client) Rerank(ctx context.Context, query string, hits []rag.SearchHit, topK int) Result {
	if len(hits) == 0 {
		return Result{Message: "no candidate hits"}
	}
	if !c.Enabled() {
		return Result{Message: "reranker not configured"}
	}

	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Text
	}
	body := request{
		Model:     c.cfg.Model,
		Query:     query,
		Documents: docs,
		TopN:      min(max(topK, 1), len(hits)),
	}

	lastErr := "unknown rerank error"
	for _, endpoint := range endpoints(c.cfg.BaseURL) {
		items, msg := c.try(ctx, endpoint, body, hits)
		if len(items) > 0 {
			return Result{Applied: true, Message: "reranked via " + endpoint, Items: items}
		}
		lastErr = msg
	}
	return Result{Message: lastErr}
}

// try posts to one endpoint. It returns ranked items, or nil and a
// diagnostic message.
func (c *Client) try(ctx context.Context, endpoint string, body request, hits []rag.SearchHit) ([]Item, string) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Sprintf("%s exception=%v", endpoint, err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Sprintf("%s status=%d body=%s", endpoint, resp.StatusCode(), truncate(resp.String(), bodyPreview))
	}

	raw := resp.Body()
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Sprintf("%s exception=invalid JSON response", endpoint)
	}
	pairs := parsePairs(gjson.ParseBytes(raw), len(hits))
	if len(pairs) == 0 {
		return nil, endpoint + " returned no rank pairs"
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })
	used := make(map[int]bool, len(pairs))
	items := make([]Item, 0, len(pairs))
	for _, p := range pairs {
		if used[p.index] || p.index < 0 || p.index >= len(hits) {
			continue
		}
		used[p.index] = true
		items = append(items, Item{Hit: hits[p.index], Score: p.score})
	}
	if len(items) == 0 {
		return nil, endpoint + " produced invalid indices"
	}
	return items, ""
}

// endpoints returns the URLs to try for base, without duplicates.
func endpoints(base string) []string {
	if strings.HasSuffix(base, "/v1") {
		return []string{base + "/rerank"}
	}
	return []string{base + "/v1/rerank", base + "/rerank"}
}

type pair struct {
	index int
	score float64
}

// parsePairs reads (index, score) pairs from a top-level array or from the
// first of results/data/output that is an array. Entries whose index is not
// an integer in [0, total) are dropped.
func parsePairs(doc gjson.Result, total int) []pair {
	list := doc
	if !doc.IsArray() {
		if !doc.IsObject() {
			return nil
		}
		list = gjson.Result{}
		for _, key := range []string{"results", "data", "output"} {
			if v := doc.Get(key); v.IsArray() {
				list = v
				break
			}
		}
		if !list.Exists() {
			return nil
		}
	}

	var pairs []pair
	pos := -1
	list.ForEach(func(_, item gjson.Result) bool {
		pos++
		if !item.IsObject() {
			return true
		}
		idx, ok := pos, true
		for _, key := range []string{"index", "document_index", "id"} {
			if v := item.Get(key); v.Exists() && v.Type != gjson.Null {
				idx, ok = toInt(v)
				break
			}
		}
		if !ok || idx < 0 || idx >= total {
			return true
		}
		score := 0.0
		for _, key := range []string{"relevance_score", "score", "similarity"} {
			if v := item.Get(key); v.Exists() && v.Type != gjson.Null {
				score = toFloat(v)
				break
			}
		}
		pairs = append(pairs, pair{index: idx, score: score})
		return true
	})
	return pairs
}

func toInt(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		return int(v.Int()), true
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(v.Str))
		return n, err == nil
	case gjson.True:
		return 1, true
	case gjson.False:
		return 0, true
	default:
		return 0, false
	}
}

func toFloat(v gjson.Result) float64 {
	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0
		}
		return f
	case gjson.True:
		return 1
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body openaiEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"alpha", "beta"}, body.Input)
		assert.Equal(t, "text-embedding-3-small", body.Model)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0.2,0.2]},{"index":0,"embedding":[0.1,0.1]}]}`))
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "text-embedding-3-small"})
	got, err := emb.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.1}, {0.2, 0.2}}, got)
}

func TestOpenAIEmbedder_AzureRouting(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/embed-small/embeddings", r.URL.Path)
		assert.Equal(t, "2024-02-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "az-key", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2,3]}]}`))
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL + "/openai",
		APIKey:     "az-key",
		Model:      "embed-small",
		Azure:      true,
		APIVersion: "2024-02-01",
	})
	got, err := emb.Embed(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2, 3}}, got)
}

func TestOpenAIEmbedder_ErrorMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	_, err := emb.Embed(context.Background(), []string{"q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.5]]}`))
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})

	got, err := emb.Embed(context.Background(), []string{"one"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5}}, got)

	_, err = emb.Embed(context.Background(), []string{"one", "two"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2 embeddings, got 1")
}

// countingEmbedder returns len(text) as a one-dimensional vector and
// records every batch it receives.
type countingEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestCached_OnlyEmbedsMisses(t *testing.T) {
	t.Parallel()

	inner := &countingEmbedder{}
	c, err := NewCached(inner, 8)
	require.NoError(t, err)

	got, err := c.Embed(context.Background(), []string{"ab", "abc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {3}}, got)

	got, err = c.Embed(context.Background(), []string{"abc", "abcd", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3}, {4}, {4}}, got)

	require.Len(t, inner.batches, 2)
	assert.Equal(t, []string{"abcd"}, inner.batches[1])
	assert.Equal(t, 3, c.Len())
}

func TestCached_Evicts(t *testing.T) {
	t.Parallel()

	inner := &countingEmbedder{}
	c, err := NewCached(inner, 1)
	require.NoError(t, err)

	for _, q := range []string{"a", "bb", "a"} {
		_, err := c.Embed(context.Background(), []string{q})
		require.NoError(t, err)
	}
	assert.Len(t, inner.batches, 3)
	assert.Equal(t, 1, c.Len())
}

func TestCached_ErrorNotCached(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("backend down")
	inner := &countingEmbedder{err: sentinel}
	c, err := NewCached(inner, 4)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), []string{"q"})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 0, c.Len())
}

func TestNewCached_NilInner(t *testing.T) {
	t.Parallel()

	_, err := NewCached(nil, 4)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "ollama ok", cfg: Config{Backend: "ollama", Endpoint: "http://localhost:11434"}},
		{name: "ollama no host", cfg: Config{Backend: "ollama"}, wantErr: "OLLAMA_HOST"},
		{name: "openai no key", cfg: Config{Backend: "openai"}, wantErr: "OPENAI_API_KEY"},
		{name: "azure no endpoint", cfg: Config{Backend: "azure", APIKey: "k"}, wantErr: "AZURE_OPENAI_ENDPOINT"},
		{name: "gemini no key", cfg: Config{Backend: "gemini"}, wantErr: "GOOGLE_API_KEY"},
		{name: "ark unsupported", cfg: Config{Backend: "ark"}, wantErr: "not supported"},
		{name: "unknown", cfg: Config{Backend: "bogus"}, wantErr: "unknown backend"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNew_WrapsInCache(t *testing.T) {
	t.Parallel()

	emb, err := New(context.Background(), Config{Backend: "ollama", Endpoint: "http://localhost:11434", Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, emb)

	emb, err = New(context.Background(), Config{Backend: "ollama", Endpoint: "http://localhost:11434", CacheSize: -1})
	require.NoError(t, err)
	assert.IsType(t, &OllamaEmbedder{}, emb)
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	assert.True(t, looksLikeChatModel("gpt-4o-mini"))
	assert.True(t, looksLikeChatModel("qwen2.5:7b"))
	assert.False(t, looksLikeChatModel("nomic-embed-text"))
	assert.False(t, looksLikeChatModel("text-embedding-3-small"))
	assert.False(t, looksLikeChatModel("bge-m3"))
}

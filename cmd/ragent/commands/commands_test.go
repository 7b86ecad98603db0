package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragent-go/internal/agent"
	"github.com/54b3r/ragent-go/internal/config"
	"github.com/54b3r/ragent-go/internal/memory"
	"github.com/54b3r/ragent-go/internal/retrieval"
	"github.com/54b3r/ragent-go/internal/tools"
)

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"ask", "chat", "serve", "index", "version"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}

func TestVersionCmd(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--env-file", writeEnvFile(t, "RAGENT_TEST_MARKER=1\n")})
	require.NoError(t, root.Execute())

	assert.True(t, strings.HasPrefix(out.String(), "ragent "))
	assert.Equal(t, "1", os.Getenv("RAGENT_TEST_MARKER"))
	t.Cleanup(func() { _ = os.Unsetenv("RAGENT_TEST_MARKER") })
}

func TestRootCmd_MissingExplicitEnvFile(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"version", "--env-file", filepath.Join(t.TempDir(), "missing.env")})
	assert.Error(t, root.Execute())
}

func TestTraceDBPath(t *testing.T) {
	t.Setenv("RAGENT_TRACE_DB", "Disabled")
	path, err := traceDBPath()
	require.NoError(t, err)
	assert.Empty(t, path)

	t.Setenv("RAGENT_TRACE_DB", "/tmp/ragent-test.db")
	path, err = traceDBPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ragent-test.db", path)
}

func TestQdrantConfigFromEnv(t *testing.T) {
	t.Setenv("QDRANT_HOST", "qdrant.internal")
	t.Setenv("QDRANT_PORT", "7334")
	t.Setenv("QDRANT_COLLECTION", "finance")
	t.Setenv("QDRANT_API_KEY", "")
	t.Setenv("QDRANT_TLS", "true")

	cfg := qdrantConfigFromEnv()
	assert.Equal(t, "qdrant.internal", cfg.Host)
	assert.Equal(t, 7334, cfg.Port)
	assert.Equal(t, "finance", cfg.Collection)
	assert.True(t, cfg.UseTLS)

	t.Setenv("QDRANT_PORT", "not-a-port")
	assert.Equal(t, 0, qdrantConfigFromEnv().Port)
}

func TestFormatReferences(t *testing.T) {
	t.Parallel()

	rr := 0.91
	lines := formatReferences([]retrieval.Hit{
		{Source: "annual_report.pdf", Page: 12, VectorScore: 0.5, RerankScore: &rr},
		{Source: "notes.md", VectorScore: 0.25},
	})
	assert.Equal(t, []string{
		"[1] annual_report.pdf p.12 (score 0.910)",
		"[2] notes.md (score 0.250)",
	}, lines)
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type emptyRetriever struct{}

func (emptyRetriever) Retrieve(context.Context, string, retrieval.Params) (*retrieval.Result, error) {
	return &retrieval.Result{}, nil
}

func TestAgentConfig_ZeroRetriesDisablesReplanning(t *testing.T) {
	t.Setenv("AGENT_MAX_REPLAN_RETRIES", "0")
	settings, err := config.SettingsFromEnv()
	require.NoError(t, err)
	require.Equal(t, 0, settings.MaxReplanRetries)

	planCalls := 0
	cfg := agentConfig(settings)
	cfg.Chat = agent.ChatFunc(func(_ context.Context, msgs []*schema.Message, _ *float32) (string, error) {
		switch sys := msgs[0].Content; {
		case strings.HasPrefix(sys, "You are a classifier"):
			return "needs_retrieval", nil
		case strings.HasPrefix(sys, "You are a task planner"):
			planCalls++
			return `{"steps":[{"tool":"retrieve","input":"gross margin"}]}`, nil
		default:
			return "not found in the documents", nil
		}
	})
	cfg.Registry = tools.NewRegistry(tools.NewRetrieveTool())
	cfg.Retriever = emptyRetriever{}

	a, err := agent.New(cfg)
	require.NoError(t, err)
	res, err := a.Run(context.Background(), memory.New(), "what does the report say about margins", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, planCalls)
	assert.Equal(t, 1, res.PlanningCalls)
	assert.Equal(t, 1, res.Rounds)
}

func TestAgentConfig_MapsSettings(t *testing.T) {
	t.Parallel()

	cfg := agentConfig(config.Settings{TopK: 3, CandidateK: 9, VectorWeight: 0.6, KeywordWeight: 0.4, MaxSteps: 4, MaxReplanRetries: 2})
	assert.Equal(t, retrieval.Params{TopK: 3, CandidateK: 9, VectorWeight: 0.6, KeywordWeight: 0.4}, cfg.Params)
	assert.Equal(t, 4, cfg.MaxSteps)
	assert.Equal(t, 2, cfg.MaxReplanRetries)
}

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/ragent-go/internal/agent"
	"github.com/54b3r/ragent-go/internal/config"
	"github.com/54b3r/ragent-go/internal/embedder"
	"github.com/54b3r/ragent-go/internal/lexical"
	"github.com/54b3r/ragent-go/internal/provider"
	"github.com/54b3r/ragent-go/internal/rag"
	"github.com/54b3r/ragent-go/internal/rerank"
	"github.com/54b3r/ragent-go/internal/retrieval"
	"github.com/54b3r/ragent-go/internal/server"
	"github.com/54b3r/ragent-go/internal/store"
	"github.com/54b3r/ragent-go/internal/tools"
)

// traceDBDisabled is the RAGENT_TRACE_DB value that turns persistence off.
const traceDBDisabled = "disabled"

// agentStack bundles everything an agent-backed command needs.
type agentStack struct {
	log         *slog.Logger
	settings    config.Settings
	providerCfg *provider.Config
	chat        *provider.Chat
	vectors     *rag.QdrantStore
	keywords    *lexical.Index
	registry    *tools.Registry
	agent       *agent.Agent
	sessions    *agent.SessionManager
	db          *store.SQLiteStore
}

// stackOptions tunes buildStack per command.
type stackOptions struct {
	// progress receives stage notifications (ask --verbose).
	progress agent.ProgressFunc
	// persist opens the trace store.
	persist bool
}

// buildStack wires provider, embedder, vector store, keyword index,
// reranker, tools, agent and session manager from the environment. Callers
// must Close the result.
func buildStack(ctx context.Context, log *slog.Logger, opts stackOptions) (*agentStack, error) {
	settings, err := config.SettingsFromEnv()
	if err != nil {
		return nil, err
	}

	rt := &agentStack{log: log, settings: settings}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	rt.providerCfg = provider.ConfigFromEnv()
	rt.chat, err = provider.New(ctx, rt.providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(rt.providerCfg.Backend)),
		slog.String("model", rt.chat.ModelName()))

	embCfg := embedder.ConfigFromEnv()
	if err := embedder.Preflight(log, embCfg); err != nil {
		return nil, err
	}
	emb, err := embedder.New(ctx, embCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	rt.vectors, err = rag.NewQdrantStore(qdrantConfigFromEnv())
	if err != nil {
		return nil, err
	}
	vector, err := rag.NewVectorRetriever(emb, rt.vectors)
	if err != nil {
		return nil, err
	}

	rt.keywords, err = lexical.Load(settings.ChunksPath)
	if err != nil {
		return nil, err
	}
	if rt.keywords == nil {
		log.Warn("keyword index unavailable, using vector-only retrieval",
			slog.String("chunks_path", settings.ChunksPath))
	} else {
		log.Info("keyword index loaded", slog.Int("chunks", rt.keywords.Len()))
	}

	var reranker rerank.Reranker
	if settings.RerankerEnabled() {
		reranker = rerank.New(rerank.Config{
			BaseURL: settings.RerankerURL,
			APIKey:  settings.RerankerAPIKey,
			Model:   settings.RerankerModel,
			Timeout: settings.RerankerTimeout,
		})
	}
	hybrid, err := retrieval.NewHybrid(vector, rt.keywords, reranker)
	if err != nil {
		return nil, err
	}

	rt.registry = tools.NewRegistry(
		tools.NewRetrieveTool(),
		tools.NewCalculateTool(nil),
		tools.NewBudgetAnalystTool(),
	)

	acfg := agentConfig(settings)
	acfg.Chat = rt.chat
	acfg.Registry = rt.registry
	acfg.Retriever = hybrid
	acfg.Progress = opts.progress
	rt.agent, err = agent.New(acfg)
	if err != nil {
		return nil, err
	}

	sessCfg := agent.SessionConfig{}
	if opts.persist {
		rt.db = openTraceStore(log)
		if rt.db != nil {
			sessCfg.History = rt.db
			sessCfg.Recorder = rt.db
		}
	}
	rt.sessions, err = agent.NewSessionManager(rt.agent, sessCfg)
	if err != nil {
		return nil, err
	}

	ok = true
	return rt, nil
}

// Close releases the vector store and trace store.
func (rt *agentStack) Close() {
	if rt.vectors != nil {
		if err := rt.vectors.Close(); err != nil {
			rt.log.Warn("close qdrant", slog.Any("error", err))
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.log.Warn("close trace store", slog.Any("error", err))
		}
	}
}

// pingers returns the readiness probes for the serve command.
func (rt *agentStack) pingers() []server.Pinger {
	var out []server.Pinger
	if rt.providerCfg.Backend == provider.BackendOllama {
		host := strings.TrimRight(rt.providerCfg.Ollama.Host, "/")
		out = append(out, server.NewHTTPLLMPinger(host+"/api/tags", "ollama"))
	} else {
		out = append(out, server.NewLLMPinger(rt.chat, string(rt.providerCfg.Backend)))
	}
	out = append(out, server.NewQdrantPinger(rt.vectors.Client()))
	out = append(out, server.FuncPinger{
		Label: "corpus",
		Check: func(ctx context.Context) error {
			n, err := rt.vectors.RowCount(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("vector collection is empty; run `ragent index`")
			}
			return nil
		},
	})
	return out
}

// qdrantConfigFromEnv reads QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION,
// QDRANT_API_KEY and QDRANT_TLS.
func qdrantConfigFromEnv() *rag.QdrantConfig {
	port, err := strconv.Atoi(os.Getenv("QDRANT_PORT"))
	if err != nil {
		port = 0
	}
	tls, _ := strconv.ParseBool(os.Getenv("QDRANT_TLS"))
	return &rag.QdrantConfig{
		Host:       os.Getenv("QDRANT_HOST"),
		Port:       port,
		Collection: os.Getenv("QDRANT_COLLECTION"),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     tls,
	}
}

// traceDBPath resolves RAGENT_TRACE_DB. It returns "" when persistence is
// disabled.
func traceDBPath() (string, error) {
	path := strings.TrimSpace(os.Getenv("RAGENT_TRACE_DB"))
	switch {
	case strings.EqualFold(path, traceDBDisabled):
		return "", nil
	case path != "":
		return path, nil
	default:
		return store.DefaultDBPath()
	}
}

// openTraceStore opens the SQLite store, degrading to no persistence on
// failure.
func openTraceStore(log *slog.Logger) *store.SQLiteStore {
	path, err := traceDBPath()
	if err != nil {
		log.Warn("trace store: could not resolve default path, disabling", slog.Any("error", err))
		return nil
	}
	if path == "" {
		log.Info("trace store: disabled via RAGENT_TRACE_DB=disabled")
		return nil
	}
	db, err := store.Open(path)
	if err != nil {
		log.Warn("trace store: failed to open, disabling", slog.String("path", path), slog.Any("error", err))
		return nil
	}
	log.Info("trace store: opened", slog.String("path", path))
	return db
}

// formatReferences renders one line per reference.
func formatReferences(refs []retrieval.Hit) []string {
	out := make([]string, 0, len(refs))
	for i, h := range refs {
		loc := h.Source
		if h.Page > 0 {
			loc = fmt.Sprintf("%s p.%d", h.Source, h.Page)
		}
		out = append(out, fmt.Sprintf("[%d] %s (score %.3f)", i+1, loc, h.Score()))
	}
	return out
}

// agentConfig maps settings onto the agent's tuning knobs. A configured
// retry count of 0 disables replanning; the agent reads 0 as "default".
func agentConfig(s config.Settings) *agent.Config {
	retries := s.MaxReplanRetries
	if retries == 0 {
		retries = -1
	}
	return &agent.Config{
		Params: retrieval.Params{
			TopK:          s.TopK,
			CandidateK:    s.CandidateK,
			VectorWeight:  s.VectorWeight,
			KeywordWeight: s.KeywordWeight,
		},
		MaxSteps:         s.MaxSteps,
		MaxReplanRetries: retries,
		MaxTraces:        s.MaxTraces,
		MaxReferences:    s.MaxReferences,
	}
}

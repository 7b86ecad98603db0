package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for the retrieval and agent knobs.
const (
	DefaultTopK             = 4
	DefaultCandidateK       = 12
	DefaultVectorWeight     = 0.6
	DefaultKeywordWeight    = 0.4
	DefaultMaxSteps         = 8
	DefaultMaxReplanRetries = 1
	DefaultMaxTraces        = 12
	DefaultMaxReferences    = 8
	DefaultChunksPath       = "data/processed/chunks.jsonl"
	DefaultRerankerTimeout  = 20 * time.Second
)

// Settings are the typed retrieval, rerank and agent knobs resolved from the
// environment after Load and LoadEnvFile have run.
type Settings struct {
	// TopK is the number of final hits per retrieval.
	TopK int
	// CandidateK is the candidate pool fetched from each source.
	CandidateK int
	// VectorWeight weights normalized vector scores during fusion.
	VectorWeight float64
	// KeywordWeight weights normalized BM25 scores during fusion.
	KeywordWeight float64

	// ChunksPath is the JSONL corpus for the BM25 index and index rebuilds.
	ChunksPath string

	RerankerURL     string
	RerankerAPIKey  string
	RerankerModel   string
	RerankerTimeout time.Duration

	MaxSteps         int
	MaxReplanRetries int
	MaxTraces        int
	MaxReferences    int
}

// SettingsFromEnv reads Settings from the environment, applying defaults for
// unset keys. Malformed values are reported rather than silently replaced.
func SettingsFromEnv() (Settings, error) {
	p := &envParser{}
	s := Settings{
		TopK:          p.intVal("RETRIEVAL_TOP_K", DefaultTopK),
		CandidateK:    p.intVal("RETRIEVAL_CANDIDATE_K", DefaultCandidateK),
		VectorWeight:  p.floatVal("HYBRID_VECTOR_WEIGHT", DefaultVectorWeight),
		KeywordWeight: p.floatVal("HYBRID_KEYWORD_WEIGHT", DefaultKeywordWeight),

		ChunksPath: envOr("CHUNKS_PATH", DefaultChunksPath),

		RerankerURL:     strings.TrimSpace(os.Getenv("RERANKER_API_URL")),
		RerankerAPIKey:  strings.TrimSpace(os.Getenv("RERANKER_API_KEY")),
		RerankerModel:   strings.TrimSpace(os.Getenv("RERANKER_MODEL")),
		RerankerTimeout: time.Duration(p.intVal("RERANKER_TIMEOUT", int(DefaultRerankerTimeout/time.Second))) * time.Second,

		MaxSteps:         p.intVal("AGENT_MAX_STEPS", DefaultMaxSteps),
		MaxReplanRetries: p.intVal("AGENT_MAX_REPLAN_RETRIES", DefaultMaxReplanRetries),
		MaxTraces:        p.intVal("AGENT_MAX_TRACES", DefaultMaxTraces),
		MaxReferences:    p.intVal("AGENT_MAX_REFERENCES", DefaultMaxReferences),
	}
	if err := errors.Join(p.errs...); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate reports settings that would make retrieval or planning misbehave.
func (s Settings) Validate() error {
	var errs []error
	if s.TopK <= 0 {
		errs = append(errs, fmt.Errorf("config: RETRIEVAL_TOP_K must be positive, got %d", s.TopK))
	}
	if s.CandidateK <= 0 {
		errs = append(errs, fmt.Errorf("config: RETRIEVAL_CANDIDATE_K must be positive, got %d", s.CandidateK))
	}
	if s.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("config: AGENT_MAX_STEPS must be positive, got %d", s.MaxSteps))
	}
	if s.RerankerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: RERANKER_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// RerankerEnabled reports whether URL, key and model are all set.
func (s Settings) RerankerEnabled() bool {
	return s.RerankerURL != "" && s.RerankerAPIKey != "" && s.RerankerModel != ""
}

// envParser collects parse errors so every malformed key is reported at once.
type envParser struct {
	errs []error
}

func (p *envParser) intVal(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s: invalid integer %q", key, v))
		return fallback
	}
	return i
}

func (p *envParser) floatVal(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s: invalid number %q", key, v))
		return fallback
	}
	return f
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

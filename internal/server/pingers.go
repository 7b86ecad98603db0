package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-resty/resty/v2"
	"github.com/qdrant/go-client/qdrant"
)

// chatter is the minimal chat surface LLMPinger probes. provider.Chat
// satisfies it.
type chatter interface {
	Chat(ctx context.Context, msgs []*schema.Message, temperature *float32) (string, error)
}

// LLMPinger probes an LLM backend. When an HTTP health URL is configured it
// issues a GET against it; otherwise it sends a one-word prompt, which
// consumes tokens.
type LLMPinger struct {
	// chat is the backend probed when no health URL is set.
	chat chatter
	// healthURL is a zero-cost endpoint such as Ollama's /api/tags.
	healthURL string
	// http is used for healthURL probes.
	http *resty.Client
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger that probes chat with a minimal
// prompt.
func NewLLMPinger(chat chatter, name string) *LLMPinger {
	return &LLMPinger{chat: chat, name: name}
}

// NewHTTPLLMPinger constructs an LLMPinger that probes healthURL with GET.
func NewHTTPLLMPinger(healthURL, name string) *LLMPinger {
	return &LLMPinger{
		healthURL: healthURL,
		http:      resty.New().SetTimeout(probeTimeout),
		name:      name,
	}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend for readiness.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthURL != "" {
		resp, err := p.http.R().SetContext(ctx).Get(p.healthURL)
		if err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		if resp.IsError() {
			return fmt.Errorf("%s health check returned HTTP %d", p.name, resp.StatusCode())
		}
		return nil
	}

	if p.chat == nil {
		return fmt.Errorf("%s: no chat backend configured", p.name)
	}
	temp := float32(0)
	out, err := p.chat.Chat(ctx, []*schema.Message{schema.UserMessage("ping")}, &temp)
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return fmt.Errorf("generate returned an empty response")
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// FuncPinger adapts a probe function to the Pinger interface.
type FuncPinger struct {
	// Label is returned by Name.
	Label string
	// Check is the probe.
	Check func(ctx context.Context) error
}

// Name implements Pinger.
func (f FuncPinger) Name() string { return f.Label }

// Ping implements Pinger.
func (f FuncPinger) Ping(ctx context.Context) error { return f.Check(ctx) }

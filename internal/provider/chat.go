package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Chat adapts an eino chat model to the single-shot text completion the
// agent uses for routing, planning and answering.
type Chat struct {
	model         model.BaseChatModel
	backend       Backend
	modelName     string
	noTemperature bool
}

// NewChat wraps m. cfg may be nil when the backend details are unknown.
func NewChat(m model.BaseChatModel, cfg *Config) *Chat {
	c := &Chat{model: m}
	if cfg != nil {
		c.backend = cfg.Backend
		c.modelName = cfg.ModelName()
		c.noTemperature = cfg.Backend == BackendAzure && isAzureReasoningModel(cfg.AzureOpenAI.Deployment)
	}
	return c
}

// Model returns the underlying chat model.
func (c *Chat) Model() model.BaseChatModel { return c.model }

// Backend returns the backend the model was built for.
func (c *Chat) Backend() Backend { return c.backend }

// ModelName returns the configured model or deployment name.
func (c *Chat) ModelName() string { return c.modelName }

// Chat sends msgs and returns the trimmed reply text. A non-nil temperature
// overrides the configured default unless the model rejects it.
func (c *Chat) Chat(ctx context.Context, msgs []*schema.Message, temperature *float32) (string, error) {
	if c.model == nil {
		return "", errors.New("provider: chat model is nil")
	}

	var opts []model.Option
	if temperature != nil && !c.noTemperature {
		opts = append(opts, model.WithTemperature(*temperature))
	}

	out, err := c.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("provider: generate: %w", err)
	}
	if out == nil {
		return "", errors.New("provider: generate returned no message")
	}
	return strings.TrimSpace(out.Content), nil
}

package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeModel records the temperature passed on each Generate call.
type fakeModel struct {
	reply    *schema.Message
	err      error
	lastTemp *float32
	calls    int
}

func (f *fakeModel) Generate(_ context.Context, _ []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.calls++
	f.lastTemp = model.GetCommonOptions(&model.Options{}, opts...).Temperature
	return f.reply, f.err
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestChat_TrimsReplyAndPassesTemperature(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{reply: schema.AssistantMessage("  needs_retrieval \n", nil)}
	c := NewChat(fm, &Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{Model: "gpt-4o"}})

	temp := float32(0)
	got, err := c.Chat(context.Background(), []*schema.Message{schema.UserMessage("hi")}, &temp)
	if err != nil {
		t.Fatalf("Chat() unexpected error: %v", err)
	}
	if got != "needs_retrieval" {
		t.Errorf("Chat() = %q, want %q", got, "needs_retrieval")
	}
	if fm.lastTemp == nil || *fm.lastTemp != 0 {
		t.Errorf("temperature = %v, want 0", fm.lastTemp)
	}
	if c.ModelName() != "gpt-4o" {
		t.Errorf("ModelName() = %q, want gpt-4o", c.ModelName())
	}
}

func TestChat_NilTemperatureLeavesDefault(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{reply: schema.AssistantMessage("ok", nil)}
	c := NewChat(fm, nil)

	if _, err := c.Chat(context.Background(), nil, nil); err != nil {
		t.Fatalf("Chat() unexpected error: %v", err)
	}
	if fm.lastTemp != nil {
		t.Errorf("temperature = %v, want unset", *fm.lastTemp)
	}
}

func TestChat_ReasoningDeploymentSkipsTemperature(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{reply: schema.AssistantMessage("ok", nil)}
	c := NewChat(fm, &Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{Deployment: "o3-mini"}})

	temp := float32(0)
	if _, err := c.Chat(context.Background(), nil, &temp); err != nil {
		t.Fatalf("Chat() unexpected error: %v", err)
	}
	if fm.lastTemp != nil {
		t.Errorf("temperature = %v, want unset for reasoning deployment", *fm.lastTemp)
	}
}

func TestChat_Errors(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("boom")
	c := NewChat(&fakeModel{err: sentinel}, nil)
	if _, err := c.Chat(context.Background(), nil, nil); !errors.Is(err, sentinel) {
		t.Errorf("Chat() error = %v, want wrapped %v", err, sentinel)
	}

	c = NewChat(&fakeModel{}, nil)
	if _, err := c.Chat(context.Background(), nil, nil); err == nil {
		t.Error("Chat() with nil reply: expected error, got nil")
	}

	c = NewChat(nil, nil)
	if _, err := c.Chat(context.Background(), nil, nil); err == nil {
		t.Error("Chat() with nil model: expected error, got nil")
	}
}

func TestNewChatModel_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewChatModel(context.Background(), &Config{Backend: BackendOpenAI})
	if err == nil {
		t.Fatal("NewChatModel() expected validation error, got nil")
	}
}

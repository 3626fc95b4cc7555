package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"gomatter/internal/usage"
)

// ChatClient sends one system and one user message and returns the reply with
// the provider's token usage, which may be nil
type ChatClient interface {
	ChatCompletion(ctx context.Context, system, prompt string, maxTokens int) (string, *usage.Data, error)
}

// newChatClient creates an OpenAI-compatible client based on config
func newChatClient(config Config) (ChatClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("missing OpenAI API key")
	}
	cc := openai.DefaultConfig(config.APIKey)
	if baseURL := strings.TrimSpace(config.BaseURL); baseURL != "" {
		cc.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cc),
		model:       config.Model,
		temperature: float32(config.Temperature),
	}, nil
}

// MockChatClient is a canned client for testing
type MockChatClient struct {
	Response string
	Usage    *usage.Data
	Error    error
	Prompts  []string
}

func (m *MockChatClient) ChatCompletion(_ context.Context, _ string, prompt string, _ int) (string, *usage.Data, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.Error != nil {
		return "", nil, m.Error
	}
	return m.Response, m.Usage, nil
}

// OpenAIClient implements ChatClient with the OpenAI chat completions API
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

func (c *OpenAIClient) ChatCompletion(ctx context.Context, system, prompt string, maxTokens int) (string, *usage.Data, error) {
	if strings.TrimSpace(c.model) == "" {
		return "", nil, fmt.Errorf("missing model")
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:         c.temperature,
		MaxCompletionTokens: maxTokens,
	})
	if err != nil {
		return "", nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("openai response missing choices")
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	u := &usage.Data{
		Provider:         "openai",
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return resp.Choices[0].Message.Content, u, nil
}

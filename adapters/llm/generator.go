package llm

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"gomatter/internal"
	"gomatter/internal/usage"
	"gomatter/ports"
)

const systemPrompt = "You are a careful materials scientist. Use only the facts you are given and cite rule ids exactly."

// Config holds LLM adapter configuration
type Config struct {
	Model       string  // e.g. "gpt-4o-mini"
	APIKey      string  // OpenAI API key
	BaseURL     string  // optional override for OpenAI-compatible servers
	Temperature float64 // lower is more deterministic
	MaxTokens   int
	// RatePerSecond caps outgoing requests across all runs; zero disables limiting
	RatePerSecond float64
	PromptsDir    string
}

// Generator implements ports.Generator with a chat model
type Generator struct {
	config  Config
	client  ChatClient
	prompts *PromptManager
	limiter *rate.Limiter
	usage   *usage.Tracker
	logger  *internal.Logger
}

// NewGenerator creates a generator backed by the OpenAI API
func NewGenerator(config Config, logger *internal.Logger) (*Generator, error) {
	client, err := newChatClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return NewGeneratorWithClient(config, client, logger), nil
}

// NewGeneratorWithClient creates a generator over any chat client
func NewGeneratorWithClient(config Config, client ChatClient, logger *internal.Logger) *Generator {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), 1)
	}
	return &Generator{
		config:  config,
		client:  client,
		prompts: NewPromptManager(config.PromptsDir),
		limiter: limiter,
		usage:   usage.NewTracker(logger),
		logger:  logger,
	}
}

// Usage returns the token usage recorded so far
func (g *Generator) Usage() *usage.Tracker { return g.usage }

// Generate compiles the prompt context and returns the model's prose
func (g *Generator) Generate(ctx context.Context, p ports.PromptContext) (string, error) {
	prompt, err := g.prompts.Compile(p)
	if err != nil {
		return "", err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	g.logger.Debug("[LLM] %s prompt for %s (%d rules, %d chars)", p.Purpose, p.Formula, len(p.Rules), len(prompt))
	text, u, err := g.client.ChatCompletion(ctx, systemPrompt, prompt, g.config.MaxTokens)
	if err != nil {
		return "", err
	}
	g.usage.Record(string(p.Purpose), u)
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty %s response", p.Purpose)
	}
	return text, nil
}

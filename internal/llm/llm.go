// Package llm provides a provider-neutral chat completion client.
package llm

import (
	"context"
	"fmt"
)

type Message struct {
	Role    string
	Content string
}

// Request is one completion call. Zero MaxTokens and nil Temperature leave
// the provider defaults in place.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Temperature returns a pointer for Request.Temperature.
func Temperature(v float64) *float64 { return &v }

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// Providers lists the accepted provider names.
var Providers = []string{"openai", "anthropic", "gemini"}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

func hasUserMessage(messages []Message) bool {
	for _, m := range messages {
		if m.Role == "user" {
			return true
		}
	}
	return false
}

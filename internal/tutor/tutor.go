// Package tutor talks to the language and speech models that prepare practice
// material and grade interpretations.
package tutor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sjawhar/kouyi/internal/config"
	"github.com/sjawhar/kouyi/internal/llm"
)

const (
	speechMaxTokens     = 1024
	termsMaxTokens      = 1024
	evaluationMaxTokens = 3072
	temperature         = 0.7
)

// ClientFactory builds a completion client for the caller's settings.
type ClientFactory func(apiKey, model string) (llm.Client, error)

type Tutor struct {
	factory ClientFactory
}

func New(factory ClientFactory) *Tutor {
	return &Tutor{factory: factory}
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

func (t *Tutor) complete(ctx context.Context, settings config.Settings, prompt string, maxTokens int) (string, error) {
	client, err := t.factory(settings.APIKey, settings.Model)
	if err != nil {
		return "", fmt.Errorf("create llm client: %w", err)
	}

	text, err := client.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: llm.Temperature(temperature),
	})
	if err != nil {
		return "", err
	}

	// R1-style models may inline their reasoning.
	text = strings.TrimSpace(thinkBlock.ReplaceAllString(text, ""))
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}

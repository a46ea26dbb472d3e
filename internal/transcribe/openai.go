package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sjawhar/kouyi/internal/audio"
)

const DefaultOpenAIModel = "FunAudioLLM/SenseVoiceSmall"

// OpenAIBackend calls an OpenAI-compatible /audio/transcriptions endpoint.
type OpenAIBackend struct {
	apiKey   string
	baseURL  string
	model    string
	language string
}

func NewOpenAIBackend(apiKey, baseURL, model, language string) *OpenAIBackend {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIBackend{apiKey: apiKey, baseURL: baseURL, model: model, language: language}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Transcribe(ctx context.Context, artifact audio.Artifact, opts Options) (string, error) {
	key := b.apiKey
	if opts.APIKey != "" {
		key = opts.APIKey
	}

	config := openai.DefaultConfig(key)
	if b.baseURL != "" {
		config.BaseURL = b.baseURL
	}
	client := openai.NewClientWithConfig(config)

	resp, err := client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    b.model,
		FilePath: "recording" + artifact.Extension(),
		Reader:   artifact.Reader(),
		Language: b.language,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	return resp.Text, nil
}

func classifyOpenAIError(err error) error {
	var (
		apiErr    *openai.APIError
		reqErr    *openai.RequestError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &apiErr), errors.As(err, &reqErr):
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	default:
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
}

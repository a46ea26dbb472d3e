package tutor

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sjawhar/kouyi/internal/config"
)

// Synthesizer renders speech text to mp3 through an OpenAI-compatible
// /audio/speech endpoint using fishaudio voices.
type Synthesizer struct {
	baseURL string
}

func NewSynthesizer(baseURL string) *Synthesizer {
	return &Synthesizer{baseURL: baseURL}
}

// VoiceParams returns the model and voice identifiers for settings.
func VoiceParams(settings config.Settings) (model, voice string) {
	model = "fishaudio/" + settings.VoiceModel
	return model, model + ":" + settings.VoiceID
}

func (s *Synthesizer) Synthesize(ctx context.Context, settings config.Settings, text string) ([]byte, error) {
	cfg := openai.DefaultConfig(settings.APIKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	client := openai.NewClientWithConfig(cfg)

	model, voice := VoiceParams(settings)
	resp, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %w", ErrSynthesisFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrSynthesisFailed)
	}
	return data, nil
}

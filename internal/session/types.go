package session

import (
	"context"

	"github.com/sjawhar/kouyi/internal/audio"
	"github.com/sjawhar/kouyi/internal/config"
	"github.com/sjawhar/kouyi/internal/scoring"
	"github.com/sjawhar/kouyi/internal/storage"
	"github.com/sjawhar/kouyi/internal/transcribe"
	"github.com/sjawhar/kouyi/internal/tutor"
)

type SettingsSource interface {
	Settings() config.Settings
}

type Tutor interface {
	GenerateSpeech(ctx context.Context, settings config.Settings, sourceText, targetLanguage string) (string, error)
	PrepareTerms(ctx context.Context, settings config.Settings, speech string) ([]tutor.Term, error)
	Evaluate(ctx context.Context, settings config.Settings, sourceSpeech, interpretedText string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, settings config.Settings, text string) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, artifact audio.Artifact, opts transcribe.Options) (string, error)
}

type Recorder interface {
	RequestPermission() (audio.Stream, error)
	Start(stream audio.Stream) error
	Stop() (audio.Artifact, error)
	Cancel() error
	Subscribe(fn func(audio.Artifact))
	State() audio.State
}

type Scorer interface {
	ComputeBreakdown(report string) scoring.Breakdown
}

type Store interface {
	Append(rec storage.PracticeRecord) error
	LastID() (int64, error)
}

type Archive interface {
	Store(name string, artifact audio.Artifact) (string, error)
}

type EventBroadcaster interface {
	BroadcastPhaseChanged(sessionID string, phase Phase)
	BroadcastTranscriptReady(sessionID, text string)
	BroadcastEvaluationReady(sessionID string, scores scoring.Breakdown)
	BroadcastRecordSaved(rec storage.PracticeRecord)
	BroadcastStatus(operation, status, message string)
}

package server

import (
	"time"

	"github.com/sjawhar/kouyi/internal/scoring"
	"github.com/sjawhar/kouyi/internal/storage"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

type PhaseChangedEvent struct {
	Event
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
}

type LevelEvent struct {
	Event
	Level float64 `json:"level"`
}

type RecorderStateEvent struct {
	Event
	State string `json:"state"`
}

type TranscriptReadyEvent struct {
	Event
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type EvaluationReadyEvent struct {
	Event
	SessionID string            `json:"session_id"`
	Scores    scoring.Breakdown `json:"scores"`
}

type RecordSavedEvent struct {
	Event
	Record storage.PracticeRecord `json:"record"`
}

// StatusEvent reports operation outcomes and degradations.
type StatusEvent struct {
	Event
	Operation string `json:"operation"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

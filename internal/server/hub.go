package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/kouyi/internal/audio"
	"github.com/sjawhar/kouyi/internal/scoring"
	"github.com/sjawhar/kouyi/internal/session"
	"github.com/sjawhar/kouyi/internal/storage"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe is safe to call more than once for the same channel.
func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; !ok {
		return
	}
	delete(h.clients, ch)
	close(ch)
}

// Broadcast drops the message for clients whose buffer is full.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastPhaseChanged(sessionID string, phase session.Phase) {
	h.broadcastEvent(PhaseChangedEvent{
		Event:     newEvent("phase_changed", time.Now().UTC()),
		SessionID: sessionID,
		Phase:     string(phase),
	})
}

func (h *Hub) BroadcastLevel(level float64) {
	h.broadcastEvent(LevelEvent{
		Event: newEvent("level", time.Now().UTC()),
		Level: level,
	})
}

func (h *Hub) BroadcastRecorderState(state audio.State) {
	h.broadcastEvent(RecorderStateEvent{
		Event: newEvent("recorder_state", time.Now().UTC()),
		State: string(state),
	})
}

func (h *Hub) BroadcastTranscriptReady(sessionID, text string) {
	h.broadcastEvent(TranscriptReadyEvent{
		Event:     newEvent("transcript_ready", time.Now().UTC()),
		SessionID: sessionID,
		Text:      text,
	})
}

func (h *Hub) BroadcastEvaluationReady(sessionID string, scores scoring.Breakdown) {
	h.broadcastEvent(EvaluationReadyEvent{
		Event:     newEvent("evaluation_ready", time.Now().UTC()),
		SessionID: sessionID,
		Scores:    scores,
	})
}

func (h *Hub) BroadcastRecordSaved(rec storage.PracticeRecord) {
	h.broadcastEvent(RecordSavedEvent{
		Event:  newEvent("record_saved", time.Now().UTC()),
		Record: rec,
	})
}

func (h *Hub) BroadcastStatus(operation, status, message string) {
	h.broadcastEvent(StatusEvent{
		Event:     newEvent("status", time.Now().UTC()),
		Operation: operation,
		Status:    status,
		Message:   message,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal error", "err", err)
		return
	}
	h.Broadcast(payload)
}

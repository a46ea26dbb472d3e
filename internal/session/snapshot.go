package session

import (
	"sort"
	"time"

	"github.com/sjawhar/kouyi/internal/audio"
	"github.com/sjawhar/kouyi/internal/scoring"
	"github.com/sjawhar/kouyi/internal/storage"
	"github.com/sjawhar/kouyi/internal/tutor"
)

type AudioInfo struct {
	MimeType  string    `json:"mimeType"`
	Source    string    `json:"source"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot is a read-only copy of the current session.
type Snapshot struct {
	ID              string                  `json:"id,omitempty"`
	Phase           Phase                   `json:"phase"`
	SourceText      string                  `json:"sourceText"`
	TargetLanguage  string                  `json:"targetLanguage"`
	SourceSpeech    string                  `json:"sourceSpeech"`
	Terms           []tutor.Term            `json:"terms"`
	InterpretedText string                  `json:"interpretedText"`
	RubricReport    string                  `json:"rubricReport"`
	Scores          *scoring.Breakdown      `json:"scores"`
	Audio           *AudioInfo              `json:"audio"`
	Record          *storage.PracticeRecord `json:"record"`
	Recorder        audio.State             `json:"recorder"`
	InFlight        []string                `json:"inFlight"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{Phase: PhaseEmpty, Terms: []tutor.Term{}, InFlight: []string{}}
	if c.deps.Recorder != nil {
		snap.Recorder = c.deps.Recorder.State()
	}
	for op := range c.inFlight {
		snap.InFlight = append(snap.InFlight, op)
	}
	sort.Strings(snap.InFlight)

	s := c.current
	if s == nil {
		return snap
	}
	snap.ID = s.ID
	snap.Phase = s.Phase
	snap.SourceText = s.SourceText
	snap.TargetLanguage = s.TargetLanguage
	snap.SourceSpeech = s.SourceSpeech
	snap.Terms = append(snap.Terms, s.Terms...)
	snap.InterpretedText = s.InterpretedText
	snap.RubricReport = s.RubricReport
	if s.Scores != nil {
		scores := *s.Scores
		snap.Scores = &scores
	}
	if !s.Audio.IsZero() {
		snap.Audio = &AudioInfo{
			MimeType:  s.Audio.MimeType(),
			Source:    string(s.Audio.Origin()),
			Size:      s.Audio.Len(),
			CreatedAt: s.Audio.CreatedAt(),
		}
	}
	if s.Record != nil {
		rec := *s.Record
		snap.Record = &rec
	}
	return snap
}

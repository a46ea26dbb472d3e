package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/kouyi/internal/audio"
	"github.com/sjawhar/kouyi/internal/config"
	"github.com/sjawhar/kouyi/internal/scoring"
	"github.com/sjawhar/kouyi/internal/storage"
	"github.com/sjawhar/kouyi/internal/transcribe"
	"github.com/sjawhar/kouyi/internal/tutor"
)

// Session is the in-memory state of one practice attempt.
type Session struct {
	ID              string
	CreatedAt       time.Time
	Settings        config.Settings
	SourceText      string
	TargetLanguage  string
	SourceSpeech    string
	Terms           []tutor.Term
	InterpretedText string
	RubricReport    string
	Audio           audio.Artifact
	Scores          *scoring.Breakdown
	Phase           Phase
	Record          *storage.PracticeRecord

	// epoch advances whenever an input of a downstream step changes.
	// speechEpoch advances only when the speech itself changes.
	epoch       uint64
	speechEpoch uint64
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Settings    SettingsSource
	Tutor       Tutor
	Synthesizer Synthesizer
	Transcriber Transcriber
	Recorder    Recorder
	Scorer      Scorer
	Store       Store
	Archive     Archive
	Hub         EventBroadcaster
}

// Controller runs the practice pipeline for a single session at a time.
type Controller struct {
	deps           Deps
	autoTranscribe bool

	now   func() time.Time
	newID func() string

	mu           sync.Mutex
	current      *Session
	inFlight     map[string]bool
	lastRecordID int64

	bg sync.WaitGroup
}

type ticket struct {
	session *Session
	epoch   uint64
	speech  bool
}

func NewController(deps Deps, autoTranscribe bool) *Controller {
	c := &Controller{
		deps:           deps,
		autoTranscribe: autoTranscribe,
		now:            time.Now,
		newID:          uuid.NewString,
		inFlight:       map[string]bool{},
	}
	if deps.Store != nil {
		last, err := deps.Store.LastID()
		if err != nil {
			slog.Warn("record ids not seeded from history", "error", err)
		}
		c.lastRecordID = last
	}
	if deps.Recorder != nil {
		deps.Recorder.Subscribe(c.onArtifact)
	}
	return c
}

// GenerateSpeech produces the source speech for sourceText. A new session is
// started when none exists or the current one was already saved.
func (c *Controller) GenerateSpeech(ctx context.Context, sourceText, targetLanguage string) (Snapshot, error) {
	sourceText = strings.TrimSpace(sourceText)
	if sourceText == "" {
		return Snapshot{}, precondition("sourceText")
	}
	if strings.TrimSpace(targetLanguage) == "" {
		targetLanguage = tutor.DefaultTargetLanguage
	}
	if err := c.begin(OpGenerateSpeech); err != nil {
		return Snapshot{}, err
	}
	defer c.end(OpGenerateSpeech)

	c.mu.Lock()
	if c.current == nil || c.current.Phase == PhasePersisted {
		c.current = c.newSession()
	} else if c.current.Phase == PhaseEmpty {
		c.current.Settings = c.settings()
	}
	s := c.current
	settings := s.Settings
	t := c.speechTicket()
	c.mu.Unlock()

	speech, err := c.deps.Tutor.GenerateSpeech(ctx, settings, sourceText, targetLanguage)

	c.mu.Lock()
	if c.stale(t) {
		c.mu.Unlock()
		return Snapshot{}, c.discard(OpGenerateSpeech)
	}
	if err != nil {
		c.mu.Unlock()
		return Snapshot{}, c.fail(OpGenerateSpeech, err)
	}
	s.SourceText = sourceText
	s.TargetLanguage = targetLanguage
	s.SourceSpeech = speech
	s.Terms = nil
	s.Audio = audio.Artifact{}
	s.clearInterpretation()
	s.speechEpoch++
	s.epoch++
	c.setPhase(s, PhaseSpeechGenerated)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	// Audio captured for the previous speech would attach to the new one.
	if err := c.deps.Recorder.Cancel(); err != nil && !errors.Is(err, audio.ErrNotRecording) {
		slog.Warn("cancel recording after new speech", "err", err)
	}
	c.status(OpGenerateSpeech, "ok", "")
	return snap, nil
}

// PrepareTerms builds a glossary of key terms for the current speech.
func (c *Controller) PrepareTerms(ctx context.Context) ([]tutor.Term, error) {
	c.mu.Lock()
	s, err := c.requireSpeech()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if err := c.beginLocked(OpPrepareTerms); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	settings, speech := s.Settings, s.SourceSpeech
	t := c.speechTicket()
	c.mu.Unlock()
	defer c.end(OpPrepareTerms)

	terms, err := c.deps.Tutor.PrepareTerms(ctx, settings, speech)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(t) {
		return nil, c.discard(OpPrepareTerms)
	}
	if err != nil {
		return nil, c.fail(OpPrepareTerms, err)
	}
	s.Terms = terms
	return append([]tutor.Term(nil), terms...), nil
}

// SynthesizeSpeech renders the current speech as mp3 audio.
func (c *Controller) SynthesizeSpeech(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	s, err := c.requireSpeech()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if err := c.beginLocked(OpSynthesize); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	settings, speech := s.Settings, s.SourceSpeech
	t := c.speechTicket()
	c.mu.Unlock()
	defer c.end(OpSynthesize)

	data, err := c.deps.Synthesizer.Synthesize(ctx, settings, speech)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(t) {
		return nil, c.discard(OpSynthesize)
	}
	if err != nil {
		return nil, c.fail(OpSynthesize, err)
	}
	return data, nil
}

// StartRecording opens the microphone and begins capturing the interpretation.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	if _, err := c.requireOpen(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	stream, err := c.deps.Recorder.RequestPermission()
	if err != nil {
		return c.fail(OpStartRecording, err)
	}
	if err := c.deps.Recorder.Start(stream); err != nil {
		return c.fail(OpStartRecording, err)
	}
	c.status(OpStartRecording, "ok", "")
	return nil
}

// StopRecording ends the capture. The artifact reaches the session through
// the recorder subscription.
func (c *Controller) StopRecording() (Snapshot, error) {
	if _, err := c.deps.Recorder.Stop(); err != nil {
		return Snapshot{}, c.fail(OpStopRecording, err)
	}
	return c.Snapshot(), nil
}

// UploadAudio attaches an existing recording to the session.
func (c *Controller) UploadAudio(data []byte, mimeType string) (Snapshot, error) {
	c.mu.Lock()
	if _, err := c.requireOpen(); err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	if len(data) == 0 {
		c.mu.Unlock()
		return Snapshot{}, precondition("audio")
	}
	artifact := audio.NewArtifact(data, mimeType, audio.OriginUploaded, c.now())
	c.attachLocked(artifact)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.status(OpUpload, "ok", "")
	c.maybeTranscribe()
	return snap, nil
}

// Transcribe converts the captured audio into the interpreted text.
func (c *Controller) Transcribe(ctx context.Context) (string, error) {
	c.mu.Lock()
	s, err := c.requireOpen()
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	if s.Audio.IsZero() {
		c.mu.Unlock()
		return "", precondition("audioArtifact")
	}
	if err := c.beginLocked(OpTranscribe); err != nil {
		c.mu.Unlock()
		return "", err
	}
	artifact, settings := s.Audio, s.Settings
	t := c.epochTicket()
	c.mu.Unlock()
	defer c.end(OpTranscribe)

	text, err := c.deps.Transcriber.Transcribe(ctx, artifact, transcribe.Options{APIKey: settings.APIKey})

	c.mu.Lock()
	if c.stale(t) {
		c.mu.Unlock()
		return "", c.discard(OpTranscribe)
	}
	if err != nil {
		c.mu.Unlock()
		return "", c.fail(OpTranscribe, err)
	}
	c.setInterpretationLocked(s, text)
	id := s.ID
	c.mu.Unlock()

	c.deps.Hub.BroadcastTranscriptReady(id, text)
	c.status(OpTranscribe, "ok", "")
	return text, nil
}

// SetInterpretedText records a typed or corrected interpretation.
func (c *Controller) SetInterpretedText(text string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.requireOpen()
	if err != nil {
		return Snapshot{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Snapshot{}, precondition("interpretedText")
	}
	c.setInterpretationLocked(s, text)
	return c.snapshotLocked(), nil
}

// Evaluation is the outcome of grading an interpretation.
type Evaluation struct {
	Report string            `json:"report"`
	Scores scoring.Breakdown `json:"scores"`
}

// Evaluate grades the interpretation against the source speech.
func (c *Controller) Evaluate(ctx context.Context) (Evaluation, error) {
	c.mu.Lock()
	s, err := c.requireOpen()
	if err != nil {
		c.mu.Unlock()
		return Evaluation{}, err
	}
	if s.InterpretedText == "" {
		c.mu.Unlock()
		return Evaluation{}, precondition("interpretedText")
	}
	if err := c.beginLocked(OpEvaluate); err != nil {
		c.mu.Unlock()
		return Evaluation{}, err
	}
	settings, speech, interp := s.Settings, s.SourceSpeech, s.InterpretedText
	t := c.epochTicket()
	c.mu.Unlock()
	defer c.end(OpEvaluate)

	report, err := c.deps.Tutor.Evaluate(ctx, settings, speech, interp)

	c.mu.Lock()
	if c.stale(t) {
		c.mu.Unlock()
		return Evaluation{}, c.discard(OpEvaluate)
	}
	if err != nil {
		c.mu.Unlock()
		return Evaluation{}, c.fail(OpEvaluate, err)
	}
	scores := c.deps.Scorer.ComputeBreakdown(report)
	s.RubricReport = report
	s.Scores = &scores
	s.epoch++
	c.setPhase(s, PhaseEvaluated)
	id := s.ID
	c.mu.Unlock()

	if missing := scores.Missing(); len(missing) > 0 {
		c.status(OpEvaluate, "degraded", "missing scores: "+strings.Join(missing, ", "))
	}
	c.deps.Hub.BroadcastEvaluationReady(id, scores)
	return Evaluation{Report: report, Scores: scores}, nil
}

// Save archives the audio and appends the session to the history. Calling
// it again for the same session returns the record saved the first time.
func (c *Controller) Save(ctx context.Context) (storage.PracticeRecord, error) {
	c.mu.Lock()
	s := c.current
	if s == nil || s.RubricReport == "" {
		c.mu.Unlock()
		return storage.PracticeRecord{}, precondition("rubricReport")
	}
	if s.Record != nil {
		rec := *s.Record
		c.mu.Unlock()
		return rec, nil
	}
	if err := c.beginLocked(OpSave); err != nil {
		c.mu.Unlock()
		return storage.PracticeRecord{}, err
	}
	rec := storage.PracticeRecord{
		CreatedAt:       c.now(),
		SourceText:      s.SourceText,
		TargetLanguage:  s.TargetLanguage,
		SourceSpeech:    s.SourceSpeech,
		InterpretedText: s.InterpretedText,
		RubricReport:    s.RubricReport,
	}
	if s.Scores != nil {
		rec.Scores = *s.Scores
	}
	artifact := s.Audio
	t := c.epochTicket()
	c.mu.Unlock()
	defer c.end(OpSave)

	if err := ctx.Err(); err != nil {
		return storage.PracticeRecord{}, err
	}
	if !artifact.IsZero() {
		path, err := c.deps.Archive.Store(s.ID, artifact)
		if err != nil {
			return storage.PracticeRecord{}, c.fail(OpSave, err)
		}
		rec.AudioRef = path
		rec.AudioMimeType = audio.ContentTypeForPath(path)
		rec.AudioSource = string(artifact.Origin())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(t) {
		return storage.PracticeRecord{}, c.discard(OpSave)
	}
	rec.ID = c.nextRecordID(rec.CreatedAt)
	if err := c.deps.Store.Append(rec); err != nil {
		return storage.PracticeRecord{}, c.fail(OpSave, err)
	}
	s.Record = &rec
	c.setPhase(s, PhasePersisted)
	c.deps.Hub.BroadcastRecordSaved(rec)
	return rec, nil
}

// Reset cancels any recording and discards the current session.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()

	if err := c.deps.Recorder.Cancel(); err != nil && !errors.Is(err, audio.ErrNotRecording) {
		slog.Warn("cancel recording on reset", "err", err)
	}
	c.deps.Hub.BroadcastPhaseChanged("", PhaseEmpty)
}

// Close waits for background transcriptions and releases the recorder.
func (c *Controller) Close() {
	if err := c.deps.Recorder.Cancel(); err != nil && !errors.Is(err, audio.ErrNotRecording) {
		slog.Warn("cancel recording on close", "err", err)
	}
	c.bg.Wait()
}

func (c *Controller) onArtifact(artifact audio.Artifact) {
	c.mu.Lock()
	if _, err := c.requireOpen(); err != nil {
		c.mu.Unlock()
		slog.Warn("recording dropped", "err", err)
		c.status(OpStopRecording, "dropped", err.Error())
		return
	}
	c.attachLocked(artifact)
	c.mu.Unlock()

	c.status(OpStopRecording, "ok", "")
	c.maybeTranscribe()
}

func (c *Controller) maybeTranscribe() {
	if !c.autoTranscribe {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if _, err := c.Transcribe(context.Background()); err != nil {
			slog.Debug("background transcription ended", "err", err)
		}
	}()
}

func (c *Controller) attachLocked(artifact audio.Artifact) {
	s := c.current
	s.Audio = artifact
	s.clearInterpretation()
	s.epoch++
	c.setPhase(s, PhaseAudioCaptured)
}

func (c *Controller) setInterpretationLocked(s *Session, text string) {
	s.clearInterpretation()
	s.InterpretedText = text
	s.epoch++
	c.setPhase(s, PhaseTranscribed)
}

func (s *Session) clearInterpretation() {
	s.InterpretedText = ""
	s.RubricReport = ""
	s.Scores = nil
}

func (c *Controller) newSession() *Session {
	return &Session{
		ID:        c.newID(),
		CreatedAt: c.now(),
		Settings:  c.settings(),
		Phase:     PhaseEmpty,
	}
}

func (c *Controller) settings() config.Settings {
	if c.deps.Settings == nil {
		return config.DefaultSettings()
	}
	return c.deps.Settings.Settings()
}

func (c *Controller) requireSpeech() (*Session, error) {
	if c.current == nil || c.current.SourceSpeech == "" {
		return nil, precondition("sourceSpeech")
	}
	return c.current, nil
}

// requireOpen is requireSpeech for steps that change a session's results.
func (c *Controller) requireOpen() (*Session, error) {
	s, err := c.requireSpeech()
	if err != nil {
		return nil, err
	}
	if s.Phase == PhasePersisted {
		return nil, ErrSessionPersisted
	}
	return s, nil
}

func (c *Controller) speechTicket() ticket {
	return ticket{session: c.current, epoch: c.current.speechEpoch, speech: true}
}

func (c *Controller) epochTicket() ticket {
	return ticket{session: c.current, epoch: c.current.epoch}
}

func (c *Controller) stale(t ticket) bool {
	if c.current != t.session {
		return true
	}
	if t.speech {
		return t.session.speechEpoch != t.epoch
	}
	return t.session.epoch != t.epoch
}

func (c *Controller) begin(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beginLocked(op)
}

func (c *Controller) beginLocked(op string) error {
	if c.inFlight[op] {
		return fmt.Errorf("%s: %w", op, ErrOperationInFlight)
	}
	c.inFlight[op] = true
	return nil
}

func (c *Controller) end(op string) {
	c.mu.Lock()
	delete(c.inFlight, op)
	c.mu.Unlock()
}

// nextRecordID returns a millisecond timestamp strictly greater than any
// id handed out before.
func (c *Controller) nextRecordID(at time.Time) int64 {
	id := at.UnixMilli()
	if id <= c.lastRecordID {
		id = c.lastRecordID + 1
	}
	c.lastRecordID = id
	return id
}

func (c *Controller) setPhase(s *Session, phase Phase) {
	s.Phase = phase
	c.deps.Hub.BroadcastPhaseChanged(s.ID, phase)
}

func (c *Controller) discard(op string) error {
	slog.Info("discarding stale result", "operation", op)
	c.status(op, "stale", ErrStaleResult.Error())
	return fmt.Errorf("%s: %w", op, ErrStaleResult)
}

func (c *Controller) fail(op string, err error) error {
	slog.Warn("operation failed", "operation", op, "err", err)
	c.status(op, "failed", err.Error())
	return err
}

func (c *Controller) status(op, status, message string) {
	c.deps.Hub.BroadcastStatus(op, status, message)
}

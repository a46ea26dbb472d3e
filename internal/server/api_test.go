package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/kouyi/internal/audio"
	"github.com/sjawhar/kouyi/internal/config"
	"github.com/sjawhar/kouyi/internal/session"
	"github.com/sjawhar/kouyi/internal/storage"
	"github.com/sjawhar/kouyi/internal/transcribe"
	"github.com/sjawhar/kouyi/internal/tutor"
)

type controllerStub struct {
	mu sync.Mutex

	err        error
	speechReq  speechRequest
	uploaded   []byte
	uploadMime string
	interp     string
	resets     int
	callCtx    context.Context
}

func (c *controllerStub) Snapshot() session.Snapshot {
	return session.Snapshot{Phase: session.PhaseSpeechGenerated, Recorder: audio.StateIdle}
}

func (c *controllerStub) GenerateSpeech(_ context.Context, sourceText, targetLanguage string) (session.Snapshot, error) {
	c.mu.Lock()
	c.speechReq = speechRequest{SourceText: sourceText, TargetLanguage: targetLanguage}
	c.mu.Unlock()
	if c.err != nil {
		return session.Snapshot{}, c.err
	}
	return session.Snapshot{Phase: session.PhaseSpeechGenerated, SourceSpeech: "speech"}, nil
}

func (c *controllerStub) PrepareTerms(context.Context) ([]tutor.Term, error) {
	return nil, c.err
}

func (c *controllerStub) SynthesizeSpeech(context.Context) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return []byte("ID3audio"), nil
}

func (c *controllerStub) StartRecording() error { return c.err }

func (c *controllerStub) StopRecording() (session.Snapshot, error) {
	return session.Snapshot{Phase: session.PhaseAudioCaptured}, c.err
}

func (c *controllerStub) UploadAudio(data []byte, mimeType string) (session.Snapshot, error) {
	c.mu.Lock()
	c.uploaded = data
	c.uploadMime = mimeType
	c.mu.Unlock()
	return session.Snapshot{Phase: session.PhaseAudioCaptured}, c.err
}

func (c *controllerStub) Transcribe(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.callCtx = ctx
	c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return "transcript", nil
}

func (c *controllerStub) SetInterpretedText(text string) (session.Snapshot, error) {
	c.mu.Lock()
	c.interp = text
	c.mu.Unlock()
	return session.Snapshot{Phase: session.PhaseTranscribed, InterpretedText: text}, c.err
}

func (c *controllerStub) Evaluate(context.Context) (session.Evaluation, error) {
	return session.Evaluation{Report: "report"}, c.err
}

func (c *controllerStub) Save(context.Context) (storage.PracticeRecord, error) {
	return storage.PracticeRecord{ID: 42}, c.err
}

func (c *controllerStub) Reset() {
	c.mu.Lock()
	c.resets++
	c.mu.Unlock()
}

type historyStub struct {
	records []storage.PracticeRecord
}

func (h historyStub) All() []storage.PracticeRecord { return h.records }

func (h historyStub) Get(id int64) (storage.PracticeRecord, error) {
	for _, rec := range h.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return storage.PracticeRecord{}, fmt.Errorf("get record %d: %w", id, storage.ErrNotFound)
}

type settingsStub struct {
	mu       sync.Mutex
	settings config.Settings
}

func (s *settingsStub) Settings() config.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *settingsStub) Save(settings config.Settings) (config.Settings, error) {
	if strings.TrimSpace(settings.APIKey) == "" {
		return config.Settings{}, config.ErrAPIKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return settings, nil
}

func testDeps(ctl Controller) Deps {
	return Deps{
		Controller: ctl,
		History:    historyStub{},
		Settings:   &settingsStub{settings: config.DefaultSettings()},
	}
}

func serve(t *testing.T, deps Deps, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	Handler(NewHub(), deps).ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body failed: %v", err)
	}
	return body
}

func TestAPIGenerateSpeech(t *testing.T) {
	ctl := &controllerStub{}
	req := httptest.NewRequest(http.MethodPost, "/api/session/speech", strings.NewReader(`{"sourceText":"climate","targetLanguage":"English"}`))
	rr := serve(t, testDeps(ctl), req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json content-type, got %q", got)
	}
	if ctl.speechReq.SourceText != "climate" || ctl.speechReq.TargetLanguage != "English" {
		t.Fatalf("unexpected request forwarded: %+v", ctl.speechReq)
	}
	if !strings.Contains(rr.Body.String(), `"sourceSpeech":"speech"`) {
		t.Fatalf("expected snapshot in body, got %s", rr.Body.String())
	}
}

func TestAPIInvalidJSONReturns400(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/session/speech", strings.NewReader(`{invalid json`))
	rr := serve(t, testDeps(&controllerStub{}), req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if body := decodeError(t, rr); body["code"] != "bad_request" {
		t.Fatalf("expected bad_request code, got %v", body)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"precondition", &session.PreconditionError{Field: "interpretedText"}, http.StatusConflict, "precondition_not_met"},
		{"in flight", fmt.Errorf("evaluate: %w", session.ErrOperationInFlight), http.StatusConflict, "in_flight"},
		{"stale", fmt.Errorf("transcribe: %w", session.ErrStaleResult), http.StatusConflict, "stale_result"},
		{"persisted", session.ErrSessionPersisted, http.StatusConflict, "session_persisted"},
		{"permission denied", &audio.PermissionError{Kind: audio.PermissionDenied}, http.StatusForbidden, "permission_denied"},
		{"device busy", &audio.PermissionError{Kind: audio.DeviceBusy}, http.StatusForbidden, "permission_device_busy"},
		{"device", fmt.Errorf("read: %w", audio.ErrDevice), http.StatusServiceUnavailable, "device_error"},
		{"network", &transcribe.Error{Backend: "openai", Err: transcribe.ErrRequestFailed}, http.StatusBadGateway, "network_error"},
		{"parse", &transcribe.Error{Backend: "openai", Err: transcribe.ErrMalformedResponse}, http.StatusBadGateway, "parse_error"},
		{"terms parse", fmt.Errorf("parse: %w", tutor.ErrMalformedTerms), http.StatusBadGateway, "parse_error"},
		{"evaluation", fmt.Errorf("call: %w", tutor.ErrEvaluationFailed), http.StatusBadGateway, "network_error"},
		{"storage", fmt.Errorf("append: %w", storage.ErrStorage), http.StatusInternalServerError, "storage_error"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/session/evaluate", nil)
			rr := serve(t, testDeps(&controllerStub{err: tt.err}), req)

			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rr.Code)
			}
			body := decodeError(t, rr)
			if body["code"] != tt.code {
				t.Fatalf("expected code %q, got %q", tt.code, body["code"])
			}
			if body["error"] == "" {
				t.Fatal("expected error message")
			}
		})
	}
}

func TestAPIPermissionErrorUsesDiagnostic(t *testing.T) {
	perr := &audio.PermissionError{Kind: audio.DeviceNotFound}
	req := httptest.NewRequest(http.MethodPost, "/api/session/recording/start", nil)
	rr := serve(t, testDeps(&controllerStub{err: perr}), req)

	if body := decodeError(t, rr); body["error"] != perr.Diagnostic() {
		t.Fatalf("expected diagnostic message, got %q", body["error"])
	}
}

func TestAPISynthesizeReturnsMP3(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/session/synthesize", nil)
	rr := serve(t, testDeps(&controllerStub{}), req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg, got %q", got)
	}
	if rr.Body.String() != "ID3audio" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestAPITermsEmptyArray(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/session/terms", nil)
	rr := serve(t, testDeps(&controllerStub{}), req)

	if !strings.Contains(rr.Body.String(), `"terms":[]`) {
		t.Fatalf("expected empty terms array, got %s", rr.Body.String())
	}
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part failed: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part failed: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/session/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAPIUploadMimeDetection(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		want        string
	}{
		{"declared", "take.webm", "audio/webm", []byte("x"), "audio/webm"},
		{"extension", "take.mp3", "application/octet-stream", []byte("x"), "audio/mpeg"},
		{"sniffed", "blob", "application/octet-stream", append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 16)...), "audio/wave"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &controllerStub{}
			rr := serve(t, testDeps(ctl), multipartUpload(t, tt.filename, tt.contentType, tt.data))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
			}
			if ctl.uploadMime != tt.want {
				t.Fatalf("expected mime %q, got %q", tt.want, ctl.uploadMime)
			}
			if !bytes.Equal(ctl.uploaded, tt.data) {
				t.Fatal("uploaded bytes were altered")
			}
		})
	}
}

func TestAPIUploadMissingField(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "value")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/session/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := serve(t, testDeps(&controllerStub{}), req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAPISetInterpretation(t *testing.T) {
	ctl := &controllerStub{}
	req := httptest.NewRequest(http.MethodPut, "/api/session/interpretation", strings.NewReader(`{"text":"my interpretation"}`))
	rr := serve(t, testDeps(ctl), req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ctl.interp != "my interpretation" {
		t.Fatalf("unexpected text forwarded %q", ctl.interp)
	}
}

func TestAPIReset(t *testing.T) {
	ctl := &controllerStub{}
	rr := serve(t, testDeps(ctl), httptest.NewRequest(http.MethodPost, "/api/session/reset", nil))
	if rr.Code != http.StatusOK || ctl.resets != 1 {
		t.Fatalf("expected reset to run, status %d resets %d", rr.Code, ctl.resets)
	}
}

func TestAPILevel(t *testing.T) {
	deps := testDeps(&controllerStub{})
	deps.Level = func() float64 { return 0.42 }
	rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/api/session/level", nil))

	var body struct {
		Level    float64 `json:"level"`
		Recorder string  `json:"recorder"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Level != 0.42 || body.Recorder != string(audio.StateIdle) {
		t.Fatalf("unexpected level body %+v", body)
	}
}

func TestAPIConfigMasksKey(t *testing.T) {
	deps := testDeps(&controllerStub{})
	settings := config.DefaultSettings()
	settings.APIKey = "sk-1234567890abcdef"
	deps.Settings = &settingsStub{settings: settings}

	rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if strings.Contains(rr.Body.String(), "sk-1234567890abcdef") {
		t.Fatalf("api key leaked: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"configured":true`) {
		t.Fatalf("expected configured flag, got %s", rr.Body.String())
	}
}

func TestAPIConfigSaveKeepsKeyWhenMaskedEchoed(t *testing.T) {
	settings := config.DefaultSettings()
	settings.APIKey = "sk-1234567890abcdef"
	store := &settingsStub{settings: settings}
	deps := testDeps(&controllerStub{})
	deps.Settings = store

	masked := settings.Masked()
	masked.Model = "other-model"
	body, _ := json.Marshal(masked)
	rr := serve(t, deps, httptest.NewRequest(http.MethodPut, "/api/config", bytes.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	got := store.Settings()
	if got.APIKey != "sk-1234567890abcdef" || got.Model != "other-model" {
		t.Fatalf("unexpected saved settings %+v", got)
	}
}

func TestAPIConfigSaveRejectsEmptyKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(`{"apiKey":"","model":"m"}`))
	rr := serve(t, testDeps(&controllerStub{}), req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if body := decodeError(t, rr); body["code"] != "api_key_required" {
		t.Fatalf("expected api_key_required, got %v", body)
	}
}

func TestAPIHistory(t *testing.T) {
	deps := testDeps(&controllerStub{})
	deps.History = historyStub{records: []storage.PracticeRecord{
		{ID: 2, CreatedAt: time.UnixMilli(2)},
		{ID: 1, CreatedAt: time.UnixMilli(1)},
	}}

	rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	var records []storage.PracticeRecord
	if err := json.NewDecoder(rr.Body).Decode(&records); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(records) != 2 || records[0].ID != 2 {
		t.Fatalf("unexpected history %+v", records)
	}

	rr = serve(t, deps, httptest.NewRequest(http.MethodGet, "/api/history/1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = serve(t, deps, httptest.NewRequest(http.MethodGet, "/api/history/9", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	rr = serve(t, deps, httptest.NewRequest(http.MethodGet, "/api/history/abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAPIAudioRange(t *testing.T) {
	root := t.TempDir()
	audioFile := filepath.Join(root, "take.mp3")
	if err := os.WriteFile(audioFile, []byte(strings.Repeat("a", 4096)), 0o644); err != nil {
		t.Fatalf("write audio file failed: %v", err)
	}

	deps := testDeps(&controllerStub{})
	deps.AudioDir = root
	deps.History = historyStub{records: []storage.PracticeRecord{{ID: 1, AudioRef: audioFile}}}

	req := httptest.NewRequest(http.MethodGet, "/api/history/1/audio", nil)
	req.Header.Set("Range", "bytes=0-1023")
	rr := serve(t, deps, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected status 206, got %d", rr.Code)
	}
	if rr.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("expected Accept-Ranges bytes, got %q", rr.Header().Get("Accept-Ranges"))
	}
	if rr.Header().Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg, got %q", rr.Header().Get("Content-Type"))
	}
}

func TestAPIAudioOutsideArchiveRejected(t *testing.T) {
	deps := testDeps(&controllerStub{})
	deps.AudioDir = t.TempDir()
	deps.History = historyStub{records: []storage.PracticeRecord{
		{ID: 1, AudioRef: "/etc/passwd"},
		{ID: 2, AudioRef: filepath.Join(deps.AudioDir, "..", "escape.mp3")},
	}}

	for _, id := range []string{"1", "2"} {
		rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/api/history/"+id+"/audio", nil))
		if rr.Code != http.StatusForbidden {
			t.Fatalf("record %s: expected status 403, got %d body=%s", id, rr.Code, rr.Body.String())
		}
	}
}

func TestAPIAudioMissing(t *testing.T) {
	deps := testDeps(&controllerStub{})
	deps.History = historyStub{records: []storage.PracticeRecord{{ID: 1}}}

	rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/api/history/1/audio", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAPIStatusWarnings(t *testing.T) {
	deps := testDeps(&controllerStub{})
	deps.Warnings = func() []string { return []string{"Deepgram API key not configured"} }

	rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if !strings.Contains(rr.Body.String(), "Deepgram API key not configured") {
		t.Fatalf("expected warning in response, got %s", rr.Body.String())
	}

	rr = serve(t, testDeps(&controllerStub{}), httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if !strings.Contains(rr.Body.String(), `"warnings":[]`) {
		t.Fatalf("expected empty warnings array, got %s", rr.Body.String())
	}
}

type ctxKey struct{}

func TestAPIPipelineCallsSurviveClientDisconnect(t *testing.T) {
	ctl := &controllerStub{}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/session/transcribe", nil).WithContext(ctx)

	rr := serve(t, testDeps(ctl), req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	ctl.mu.Lock()
	got := ctl.callCtx
	ctl.mu.Unlock()
	if got == nil {
		t.Fatal("controller never called")
	}
	if err := got.Err(); err != nil {
		t.Fatalf("controller context err = %v, want nil after client cancel", err)
	}
	if v := got.Value(ctxKey{}); v != "req-1" {
		t.Fatalf("request value = %v, want req-1", v)
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sjawhar/kouyi/internal/audio"
	"github.com/sjawhar/kouyi/internal/config"
	"github.com/sjawhar/kouyi/internal/session"
	"github.com/sjawhar/kouyi/internal/storage"
	"github.com/sjawhar/kouyi/internal/tutor"
)

const (
	maxUploadBytes = 64 << 20
	maxJSONBytes   = 1 << 20
)

type Controller interface {
	Snapshot() session.Snapshot
	GenerateSpeech(ctx context.Context, sourceText, targetLanguage string) (session.Snapshot, error)
	PrepareTerms(ctx context.Context) ([]tutor.Term, error)
	SynthesizeSpeech(ctx context.Context) ([]byte, error)
	StartRecording() error
	StopRecording() (session.Snapshot, error)
	UploadAudio(data []byte, mimeType string) (session.Snapshot, error)
	Transcribe(ctx context.Context) (string, error)
	SetInterpretedText(text string) (session.Snapshot, error)
	Evaluate(ctx context.Context) (session.Evaluation, error)
	Save(ctx context.Context) (storage.PracticeRecord, error)
	Reset()
}

type HistoryStore interface {
	All() []storage.PracticeRecord
	Get(id int64) (storage.PracticeRecord, error)
}

type SettingsStore interface {
	Settings() config.Settings
	Save(settings config.Settings) (config.Settings, error)
}

// Deps are the services behind the HTTP API.
type Deps struct {
	Controller Controller
	History    HistoryStore
	Settings   SettingsStore
	Level      func() float64
	AudioDir   string
	Warnings   func() []string
}

type speechRequest struct {
	SourceText     string `json:"sourceText"`
	TargetLanguage string `json:"targetLanguage"`
}

type interpretationRequest struct {
	Text string `json:"text"`
}

func registerAPIRoutes(mux *http.ServeMux, deps Deps) {
	ctl := deps.Controller

	mux.HandleFunc("GET /api/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, configResponse(deps.Settings.Settings()))
	})

	mux.HandleFunc("PUT /api/config", func(w http.ResponseWriter, r *http.Request) {
		var req config.Settings
		if !decodeJSON(w, r, &req) {
			return
		}
		current := deps.Settings.Settings()
		if req.APIKey == current.Masked().APIKey {
			req.APIKey = current.APIKey
		}
		saved, err := deps.Settings.Save(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, configResponse(saved))
	})

	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctl.Snapshot())
	})

	mux.HandleFunc("POST /api/session/speech", func(w http.ResponseWriter, r *http.Request) {
		var req speechRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		snap, err := ctl.GenerateSpeech(detached(r), req.SourceText, req.TargetLanguage)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("POST /api/session/terms", func(w http.ResponseWriter, r *http.Request) {
		terms, err := ctl.PrepareTerms(detached(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if terms == nil {
			terms = []tutor.Term{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"terms": terms})
	})

	mux.HandleFunc("POST /api/session/synthesize", func(w http.ResponseWriter, r *http.Request) {
		data, err := ctl.SynthesizeSpeech(detached(r))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})

	mux.HandleFunc("POST /api/session/recording/start", func(w http.ResponseWriter, r *http.Request) {
		if err := ctl.StartRecording(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctl.Snapshot())
	})

	mux.HandleFunc("POST /api/session/recording/stop", func(w http.ResponseWriter, r *http.Request) {
		snap, err := ctl.StopRecording()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("GET /api/session/level", func(w http.ResponseWriter, r *http.Request) {
		level := 0.0
		if deps.Level != nil {
			level = deps.Level()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"level":    level,
			"recorder": ctl.Snapshot().Recorder,
		})
	})

	mux.HandleFunc("POST /api/session/upload", func(w http.ResponseWriter, r *http.Request) {
		data, mimeType, err := readUpload(w, r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		snap, err := ctl.UploadAudio(data, mimeType)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("POST /api/session/transcribe", func(w http.ResponseWriter, r *http.Request) {
		text, err := ctl.Transcribe(detached(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"interpretedText": text})
	})

	mux.HandleFunc("PUT /api/session/interpretation", func(w http.ResponseWriter, r *http.Request) {
		var req interpretationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		snap, err := ctl.SetInterpretedText(req.Text)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("POST /api/session/evaluate", func(w http.ResponseWriter, r *http.Request) {
		eval, err := ctl.Evaluate(detached(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, eval)
	})

	mux.HandleFunc("POST /api/session/save", func(w http.ResponseWriter, r *http.Request) {
		rec, err := ctl.Save(detached(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("POST /api/session/reset", func(w http.ResponseWriter, r *http.Request) {
		ctl.Reset()
		writeJSON(w, http.StatusOK, ctl.Snapshot())
	})

	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.History.All())
	})

	mux.HandleFunc("GET /api/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := lookupRecord(w, r, deps.History)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("GET /api/history/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := lookupRecord(w, r, deps.History)
		if !ok {
			return
		}
		if rec.AudioRef == "" {
			writeJSONError(w, http.StatusNotFound, "not_found", "audio not available")
			return
		}

		cleanPath, err := archivedPath(deps.AudioDir, rec.AudioRef)
		if err != nil {
			writeJSONError(w, http.StatusForbidden, "forbidden", err.Error())
			return
		}

		f, err := os.Open(cleanPath)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "not_found", "audio file not found")
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal_error", fmt.Sprintf("stat audio: %v", err))
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Type", audio.ContentTypeForPath(cleanPath))
		http.ServeContent(w, r, filepath.Base(cleanPath), info.ModTime(), f)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if deps.Warnings != nil {
			warnings = deps.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"phase":    ctl.Snapshot().Phase,
			"warnings": warnings,
		})
	})
}

func configResponse(settings config.Settings) map[string]any {
	masked := settings.Masked()
	return map[string]any{
		"settings":   masked,
		"configured": settings.APIKey != "",
	}
}

func lookupRecord(w http.ResponseWriter, r *http.Request, history HistoryStore) (storage.PracticeRecord, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid record id")
		return storage.PracticeRecord{}, false
	}
	rec, err := history.Get(id)
	if err != nil {
		writeError(w, err)
		return storage.PracticeRecord{}, false
	}
	return rec, true
}

// archivedPath resolves ref and refuses anything outside the archive dir.
func archivedPath(dir, ref string) (string, error) {
	cleanPath := filepath.Clean(ref)
	if dir == "" {
		return "", errors.New("audio archive not configured")
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve audio dir: %w", err)
	}
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return "", fmt.Errorf("resolve audio path: %w", err)
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("invalid audio path")
	}
	return absPath, nil
}

// readUpload returns the bytes of the multipart "audio" part and its MIME type.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", fmt.Errorf("parse upload: %w", err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, "", fmt.Errorf("read audio field: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	return data, uploadMimeType(header, data), nil
}

func uploadMimeType(header *multipart.FileHeader, data []byte) string {
	declared := strings.TrimSpace(header.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if ct := audio.ContentTypeForPath(header.Filename); ct != "application/octet-stream" {
		return ct
	}
	return http.DetectContentType(data)
}

// detached keeps the request's values but not its cancellation, so a client
// that disconnects does not abort a pipeline call already under way.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func writeError(w http.ResponseWriter, err error) {
	status, code, msg := classifyError(err)
	writeJSONError(w, status, code, msg)
}

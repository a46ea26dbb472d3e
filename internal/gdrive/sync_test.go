package gdrive

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/sjawhar/kouyi/internal/storage"
)

type filesMock struct {
	mu      sync.Mutex
	created []*drive.File
	updated []string
	bodies  []string
	err     error
}

func (f *filesMock) create(_ context.Context, file *drive.File, media io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	body, _ := io.ReadAll(media)
	f.created = append(f.created, file)
	f.bodies = append(f.bodies, string(body))
	return "id-" + file.Name, nil
}

func (f *filesMock) update(_ context.Context, id string, media io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(media)
	f.updated = append(f.updated, id)
	f.bodies = append(f.bodies, string(body))
	return nil
}

type snapshotterMock struct {
	content string
	err     error
}

func (s snapshotterMock) Backup(dst string) error {
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(dst, []byte(s.content), 0o600)
}

func intPtr(v int) *int { return &v }

func TestSyncRecordCreatesThenUpdates(t *testing.T) {
	files := &filesMock{}
	s := newSyncer(files, "folder")
	rec := storage.PracticeRecord{ID: 7, CreatedAt: time.Unix(0, 0), SourceSpeech: "speech", InterpretedText: "interp"}

	if err := s.SyncRecord(context.Background(), rec); err != nil {
		t.Fatalf("SyncRecord failed: %v", err)
	}
	if err := s.SyncRecord(context.Background(), rec); err != nil {
		t.Fatalf("second SyncRecord failed: %v", err)
	}

	if len(files.created) != 1 || len(files.updated) != 1 {
		t.Fatalf("expected one create and one update, got %d/%d", len(files.created), len(files.updated))
	}
	created := files.created[0]
	if created.Name != "kouyi-7" || created.MimeType != googleDocMime || created.Parents[0] != "folder" {
		t.Fatalf("unexpected drive file %+v", created)
	}
	if files.updated[0] != "id-kouyi-7" {
		t.Fatalf("expected update of created id, got %q", files.updated[0])
	}
}

func TestBackupHistoryUploadsSnapshot(t *testing.T) {
	files := &filesMock{}
	s := newSyncer(files, "folder")
	s.tempDir = t.TempDir()

	if err := s.BackupHistory(context.Background(), snapshotterMock{content: "SQLite format 3"}); err != nil {
		t.Fatalf("BackupHistory failed: %v", err)
	}
	if len(files.created) != 1 || files.created[0].Name != historyFileName {
		t.Fatalf("unexpected uploads %+v", files.created)
	}
	if files.bodies[0] != "SQLite format 3" {
		t.Fatalf("unexpected uploaded body %q", files.bodies[0])
	}

	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		t.Fatalf("read temp dir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp snapshot to be removed, found %d entries", len(entries))
	}
}

func TestBackupHistorySnapshotFailure(t *testing.T) {
	files := &filesMock{}
	s := newSyncer(files, "folder")
	s.tempDir = t.TempDir()

	err := s.BackupHistory(context.Background(), snapshotterMock{err: storage.ErrStorage})
	if !errors.Is(err, storage.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(files.created) != 0 {
		t.Fatal("expected no upload")
	}
}

func TestSyncRecordDriveFailure(t *testing.T) {
	files := &filesMock{err: errors.New("quota exceeded")}
	s := newSyncer(files, "folder")

	if err := s.SyncRecord(context.Background(), storage.PracticeRecord{ID: 1}); err == nil {
		t.Fatal("expected drive error")
	}
	if _, ok := s.fileIDs["kouyi-1"]; ok {
		t.Fatal("failed create must not be cached")
	}
}

func TestRecordDocument(t *testing.T) {
	rec := storage.PracticeRecord{
		ID:              1700000000000,
		CreatedAt:       time.UnixMilli(1700000000000),
		SourceText:      "climate",
		TargetLanguage:  "中文",
		SourceSpeech:    "speech body",
		InterpretedText: "interpretation body",
		RubricReport:    "准确性评估：85分",
	}
	rec.Scores.Accuracy = intPtr(85)
	rec.Scores.Total = 34

	doc := RecordDocument(rec)
	for _, want := range []string{"speech body", "interpretation body", "accuracy: 85", "expression: n/a", "total: 34.0", "准确性评估"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("expected document to contain %q:\n%s", want, doc)
		}
	}
	if strings.Contains(doc, "Audio:") {
		t.Fatal("expected no audio line without audio ref")
	}
}

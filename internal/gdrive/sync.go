package gdrive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/sjawhar/kouyi/internal/storage"
)

const (
	historyFileName = "kouyi-history.db"
	sqliteMimeType  = "application/x-sqlite3"
	googleDocMime   = "application/vnd.google-apps.document"
)

// Snapshotter writes a consistent copy of the history database to dst.
type Snapshotter interface {
	Backup(dst string) error
}

type files interface {
	create(ctx context.Context, file *drive.File, media io.Reader) (string, error)
	update(ctx context.Context, id string, media io.Reader) error
}

type driveFiles struct {
	service *drive.Service
}

func (d driveFiles) create(ctx context.Context, file *drive.File, media io.Reader) (string, error) {
	doc, err := d.service.Files.Create(file).Media(media).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return doc.Id, nil
}

func (d driveFiles) update(ctx context.Context, id string, media io.Reader) error {
	_, err := d.service.Files.Update(id, &drive.File{}).Media(media).Context(ctx).Do()
	return err
}

// Syncer mirrors practice records and the history database to a Drive folder.
type Syncer struct {
	files    files
	folderID string
	tempDir  string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewSyncer(ctx context.Context, credPath, folderID string) (*Syncer, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return newSyncer(driveFiles{service: svc}, folderID), nil
}

func newSyncer(f files, folderID string) *Syncer {
	return &Syncer{
		files:    f,
		folderID: folderID,
		tempDir:  os.TempDir(),
		fileIDs:  make(map[string]string),
	}
}

// SyncRecord uploads rec as a Google Doc named after its id.
func (s *Syncer) SyncRecord(ctx context.Context, rec storage.PracticeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("kouyi-%d", rec.ID)
	body := strings.NewReader(RecordDocument(rec))
	if err := s.put(ctx, name, googleDocMime, body); err != nil {
		return fmt.Errorf("sync record %d: %w", rec.ID, err)
	}
	return nil
}

// BackupHistory uploads a fresh snapshot of the history database.
func (s *Syncer) BackupHistory(ctx context.Context, db Snapshotter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.MkdirTemp(s.tempDir, "kouyi-backup-")
	if err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	path := filepath.Join(tmp, historyFileName)
	if err := db.Backup(path); err != nil {
		return fmt.Errorf("snapshot history: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := s.put(ctx, historyFileName, sqliteMimeType, f); err != nil {
		return fmt.Errorf("upload history: %w", err)
	}
	return nil
}

func (s *Syncer) put(ctx context.Context, name, mimeType string, media io.Reader) error {
	if fileID, ok := s.fileIDs[name]; ok {
		if err := s.files.update(ctx, fileID, media); err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	id, err := s.files.create(ctx, &drive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{s.folderID},
	}, media)
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}
	s.fileIDs[name] = id
	return nil
}

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/kouyi/internal/scoring"
)

var (
	// ErrStorage wraps every write failure.
	ErrStorage  = errors.New("storage error")
	ErrNotFound = errors.New("record not found")
)

// PracticeRecord is one completed practice session. Records are immutable
// once appended.
type PracticeRecord struct {
	ID              int64             `json:"id"`
	CreatedAt       time.Time         `json:"createdAt"`
	SourceText      string            `json:"sourceText"`
	TargetLanguage  string            `json:"targetLanguage"`
	SourceSpeech    string            `json:"sourceSpeech"`
	InterpretedText string            `json:"interpretedText"`
	RubricReport    string            `json:"rubricReport"`
	AudioRef        string            `json:"audioRef"`
	AudioMimeType   string            `json:"audioMimeType"`
	AudioSource     string            `json:"audioSource"`
	Scores          scoring.Breakdown `json:"scores"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "kouyi.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS practice_records (
			id INTEGER PRIMARY KEY,
			created_at TEXT NOT NULL,
			source_text TEXT NOT NULL DEFAULT '',
			target_language TEXT NOT NULL DEFAULT '',
			source_speech TEXT NOT NULL DEFAULT '',
			interpreted_text TEXT NOT NULL DEFAULT '',
			rubric_report TEXT NOT NULL DEFAULT '',
			audio_ref TEXT NOT NULL DEFAULT '',
			audio_mime_type TEXT NOT NULL DEFAULT '',
			audio_source TEXT NOT NULL DEFAULT '',
			score_accuracy INTEGER,
			score_expression INTEGER,
			score_skills INTEGER,
			score_total REAL NOT NULL DEFAULT 0
		);
	`); err != nil {
		return fmt.Errorf("create practice_records table: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Append inserts rec. An existing id is an error; records are never replaced.
func (s *SQLiteStore) Append(rec PracticeRecord) error {
	if rec.ID <= 0 {
		return fmt.Errorf("%w: record id is required", ErrStorage)
	}

	_, err := s.db.Exec(
		`INSERT INTO practice_records(
			id, created_at, source_text, target_language, source_speech, interpreted_text,
			rubric_report, audio_ref, audio_mime_type, audio_source,
			score_accuracy, score_expression, score_skills, score_total
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.SourceText,
		rec.TargetLanguage,
		rec.SourceSpeech,
		rec.InterpretedText,
		rec.RubricReport,
		rec.AudioRef,
		rec.AudioMimeType,
		rec.AudioSource,
		nullableScore(rec.Scores.Accuracy),
		nullableScore(rec.Scores.Expression),
		nullableScore(rec.Scores.Skills),
		rec.Scores.Total,
	)
	if err != nil {
		return fmt.Errorf("%w: append record %d: %w", ErrStorage, rec.ID, err)
	}
	return nil
}

// LastID returns the largest stored record id, 0 for an empty history.
func (s *SQLiteStore) LastID() (int64, error) {
	var id int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM practice_records`).Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: read last record id: %w", ErrStorage, err)
	}
	return id, nil
}

const selectRecords = `SELECT id, created_at, source_text, target_language, source_speech, interpreted_text,
	rubric_report, audio_ref, audio_mime_type, audio_source,
	score_accuracy, score_expression, score_skills, score_total
	FROM practice_records`

// All returns every record, newest first. Read failures are logged and
// yield an empty history.
func (s *SQLiteStore) All() []PracticeRecord {
	records, err := s.all()
	if err != nil {
		slog.Warn("history unreadable, returning empty list", "error", err)
		return []PracticeRecord{}
	}
	return records
}

func (s *SQLiteStore) all() ([]PracticeRecord, error) {
	rows, err := s.db.Query(selectRecords + ` ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]PracticeRecord, 0, 16)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}

	return records, nil
}

func (s *SQLiteStore) Get(id int64) (PracticeRecord, error) {
	row := s.db.QueryRow(selectRecords+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PracticeRecord{}, fmt.Errorf("get record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return PracticeRecord{}, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// Backup writes a consistent copy of the database to dst.
func (s *SQLiteStore) Backup(dst string) error {
	_ = os.Remove(dst)
	if _, err := s.db.Exec(`VACUUM INTO ?`, dst); err != nil {
		return fmt.Errorf("%w: backup database: %w", ErrStorage, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (PracticeRecord, error) {
	var (
		rec                         PracticeRecord
		createdAt                   string
		accuracy, expression, skill sql.NullInt64
	)
	if err := row.Scan(
		&rec.ID, &createdAt, &rec.SourceText, &rec.TargetLanguage, &rec.SourceSpeech, &rec.InterpretedText,
		&rec.RubricReport, &rec.AudioRef, &rec.AudioMimeType, &rec.AudioSource,
		&accuracy, &expression, &skill, &rec.Scores.Total,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PracticeRecord{}, err
		}
		return PracticeRecord{}, fmt.Errorf("scan record: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return PracticeRecord{}, fmt.Errorf("parse record %d created_at: %w", rec.ID, err)
	}
	rec.CreatedAt = parsed
	rec.Scores.Accuracy = scoreFromNull(accuracy)
	rec.Scores.Expression = scoreFromNull(expression)
	rec.Scores.Skills = scoreFromNull(skill)

	return rec, nil
}

func nullableScore(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func scoreFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/kouyi/internal/scoring"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func intPtr(v int) *int { return &v }

func testRecord(id int64) PracticeRecord {
	return PracticeRecord{
		ID:              id,
		CreatedAt:       time.UnixMilli(id).UTC(),
		SourceText:      "source",
		TargetLanguage:  "英文",
		SourceSpeech:    "speech",
		InterpretedText: "interpretation",
		RubricReport:    "准确性评估：85分",
		AudioRef:        fmt.Sprintf("data/audio/%d.mp3", id),
		AudioMimeType:   "audio/mpeg",
		AudioSource:     "recorded",
		Scores:          scoring.Breakdown{Accuracy: intPtr(85), Total: 34},
	}
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestAllReturnsNewestFirst(t *testing.T) {
	store := newTestSQLiteStore(t)

	for _, id := range []int64{1700000000001, 1700000000002, 1700000000003} {
		if err := store.Append(testRecord(id)); err != nil {
			t.Fatalf("Append %d failed: %v", id, err)
		}
	}

	records := store.All()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, want := range []int64{1700000000003, 1700000000002, 1700000000001} {
		if records[i].ID != want {
			t.Fatalf("records[%d].ID = %d, want %d", i, records[i].ID, want)
		}
	}
}

func TestRecordRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	rec := testRecord(1700000000123)

	if err := store.Append(rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("createdAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
	if got.SourceSpeech != rec.SourceSpeech || got.AudioRef != rec.AudioRef || got.AudioSource != "recorded" {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Scores.Accuracy == nil || *got.Scores.Accuracy != 85 {
		t.Fatalf("accuracy = %v, want 85", got.Scores.Accuracy)
	}
	if got.Scores.Expression != nil || got.Scores.Skills != nil {
		t.Fatalf("missing dimensions must stay null, got %+v", got.Scores)
	}
	if got.Scores.Total != 34 {
		t.Fatalf("total = %v, want 34", got.Scores.Total)
	}
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	store := newTestSQLiteStore(t)

	if err := store.Append(testRecord(42)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	err := store.Append(testRecord(42))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("duplicate Append error = %v, want ErrStorage", err)
	}
	if n := len(store.All()); n != 1 {
		t.Fatalf("expected 1 record after duplicate, got %d", n)
	}
}

func TestAppendRejectsMissingID(t *testing.T) {
	store := newTestSQLiteStore(t)
	if err := store.Append(PracticeRecord{}); !errors.Is(err, ErrStorage) {
		t.Fatalf("Append error = %v, want ErrStorage", err)
	}
}

func TestAllReturnsEmptyOnCorruptRow(t *testing.T) {
	store := newTestSQLiteStore(t)

	if err := store.Append(testRecord(1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO practice_records(id, created_at) VALUES(2, 'not-a-time')`); err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	records := store.All()
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil history, got %v", records)
	}
}

func TestAllReturnsEmptyWhenClosed(t *testing.T) {
	store := newTestSQLiteStore(t)
	_ = store.Close()

	if records := store.All(); len(records) != 0 {
		t.Fatalf("expected empty history, got %d records", len(records))
	}
}

func TestGetMissingRecord(t *testing.T) {
	store := newTestSQLiteStore(t)
	if _, err := store.Get(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestBackupProducesReadableCopy(t *testing.T) {
	store := newTestSQLiteStore(t)
	if err := store.Append(testRecord(7)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "backup.db")
	if err := store.Backup(dst); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}

	copyStore, err := NewSQLiteStore(dst)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer copyStore.Close()

	if records := copyStore.All(); len(records) != 1 || records[0].ID != 7 {
		t.Fatalf("backup records = %+v", records)
	}
}

func TestSQLiteConcurrentAccess(t *testing.T) {
	store := newTestSQLiteStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = store.Append(testRecord(int64(1000 + idx)))
			_ = store.All()
		}(i)
	}
	wg.Wait()

	if n := len(store.All()); n != 20 {
		t.Fatalf("expected 20 records, got %d", n)
	}
}

func TestLastID(t *testing.T) {
	store := newTestSQLiteStore(t)

	id, err := store.LastID()
	if err != nil {
		t.Fatalf("LastID on empty store failed: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected 0 for empty history, got %d", id)
	}

	for _, rid := range []int64{1_700_000_000_500, 1_700_000_000_900, 1_700_000_000_100} {
		if err := store.Append(testRecord(rid)); err != nil {
			t.Fatalf("Append(%d) failed: %v", rid, err)
		}
	}
	id, err = store.LastID()
	if err != nil {
		t.Fatalf("LastID failed: %v", err)
	}
	if id != 1_700_000_000_900 {
		t.Fatalf("expected largest id, got %d", id)
	}
}

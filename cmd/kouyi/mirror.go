package main

import (
	"context"
	"log"
	"sync"

	"github.com/sjawhar/kouyi/internal/gdrive"
	"github.com/sjawhar/kouyi/internal/storage"
)

// mirroredStore copies every appended record, and a fresh database
// snapshot, to Google Drive when a syncer is configured.
type mirroredStore struct {
	*storage.SQLiteStore

	syncer *gdrive.Syncer
	ctx    context.Context
	wg     sync.WaitGroup
}

func (m *mirroredStore) Append(rec storage.PracticeRecord) error {
	if err := m.SQLiteStore.Append(rec); err != nil {
		return err
	}
	if m.syncer == nil {
		return nil
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.syncer.SyncRecord(m.ctx, rec); err != nil {
			log.Printf("gdrive sync error: %v", err)
		}
		if err := m.syncer.BackupHistory(m.ctx, m.SQLiteStore); err != nil {
			log.Printf("gdrive backup error: %v", err)
		}
	}()
	return nil
}

func (m *mirroredStore) wait() {
	m.wg.Wait()
}

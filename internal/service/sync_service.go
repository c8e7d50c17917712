package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// BackupKey is the object key of the latest cloud backup.
const BackupKey = "backups/latest.json"

// Uploader stores an object in the cloud. internal/cloud.S3Uploader is the
// production implementation.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

// SyncService pushes the latest backup to cloud storage after every
// completion. Uploads run in the background; a failed upload only logs, the
// local data stays authoritative.
type SyncService struct {
	backup   *BackupService
	uploader Uploader
	timeout  time.Duration

	mu     sync.Mutex
	wg     sync.WaitGroup
	status SyncStatus
}

type SyncStatus struct {
	LastSuccess time.Time `json:"lastSuccess"`
	LastError   string    `json:"lastError,omitempty"`
}

// NewSyncService subscribes to TaskCompleted. A nil uploader disables syncing.
func NewSyncService(backup *BackupService, uploader Uploader, events *Events) *SyncService {
	s := &SyncService{backup: backup, uploader: uploader, timeout: 30 * time.Second}
	if uploader != nil {
		events.OnTaskCompleted(func(ctx context.Context, _ TaskCompleted) {
			s.Push(ctx)
		})
	}
	return s
}

func (s *SyncService) Enabled() bool {
	return s.uploader != nil
}

// Push uploads the current backup in the background.
func (s *SyncService) Push(ctx context.Context) {
	if s.uploader == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.upload(ctx); err != nil {
			log.Printf("[warn] cloud sync failed, data kept locally: %v", err)
			s.setStatus(err)
			return
		}
		s.setStatus(nil)
	}()
}

func (s *SyncService) upload(ctx context.Context) error {
	b, err := s.backup.Export(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.uploader.Upload(ctx, BackupKey, body)
}

func (s *SyncService) setStatus(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status.LastError = err.Error()
		return
	}
	s.status.LastSuccess = time.Now()
	s.status.LastError = ""
}

func (s *SyncService) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Wait blocks until in-flight uploads are done.
func (s *SyncService) Wait() {
	s.wg.Wait()
}

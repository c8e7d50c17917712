package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"edu-tracker/internal/model"
	"edu-tracker/internal/repository"
)

// Backup is the full exportable state of the tracker.
type Backup struct {
	Courses         []model.Course      `json:"courses"`
	Tasks           []model.Task        `json:"tasks"`
	PerformanceData []model.Performance `json:"performanceData"`
	Rewards         []model.Reward      `json:"rewards"`
	Badges          []model.Badge       `json:"badges"`
	SuccessPoints   int                 `json:"successPoints"`
	ExportedAt      time.Time           `json:"exportedAt"`
}

var backupArrayKeys = []string{"courses", "tasks", "performanceData", "rewards", "badges"}

type BackupService struct {
	tasks  *TaskService
	badges *repository.BadgeRepository
	now    func() time.Time
}

func NewBackupService(tasks *TaskService) *BackupService {
	return &BackupService{
		tasks:  tasks,
		badges: repository.NewBadgeRepository(tasks.db),
		now:    time.Now,
	}
}

// Export reads every collection in one consistent transaction.
func (s *BackupService) Export(ctx context.Context) (*Backup, error) {
	b := &Backup{ExportedAt: s.now().UTC()}
	err := s.tasks.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		courses := s.tasks.courses.WithTx(tx)
		if b.Courses, err = courses.List(ctx); err != nil {
			return fmt.Errorf("list courses: %w", err)
		}
		if b.PerformanceData, err = courses.ListPerformance(ctx); err != nil {
			return fmt.Errorf("list performance: %w", err)
		}
		if b.Tasks, err = s.tasks.tasks.WithTx(tx).ListAll(ctx); err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		rewards := s.tasks.rewards.WithTx(tx)
		if b.Rewards, err = rewards.List(ctx); err != nil {
			return fmt.Errorf("list rewards: %w", err)
		}
		if b.SuccessPoints, err = rewards.Points(ctx); err != nil {
			return err
		}
		if b.Badges, err = s.badges.WithTx(tx).List(ctx); err != nil {
			return fmt.Errorf("list badges: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BackupService) ExportJSON(ctx context.Context) ([]byte, error) {
	b, err := s.Export(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(b, "", "  ")
}

// ParseBackup checks that every collection is present and the points are a
// number before decoding.
func ParseBackup(raw []byte) (*Backup, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}
	for _, key := range backupArrayKeys {
		v, ok := fields[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrMalformedBackup, key)
		}
		if t := bytes.TrimSpace(v); len(t) == 0 || t[0] != '[' {
			return nil, fmt.Errorf("%w: %q must be a list", ErrMalformedBackup, key)
		}
	}
	var points json.Number
	pv, ok := fields["successPoints"]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedBackup, "successPoints")
	}
	if err := json.Unmarshal(pv, &points); err != nil {
		return nil, fmt.Errorf("%w: successPoints must be a number", ErrMalformedBackup)
	}
	if _, err := points.Int64(); err != nil {
		return nil, fmt.Errorf("%w: successPoints must be a whole number", ErrMalformedBackup)
	}

	var b Backup
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}
	if b.SuccessPoints < 0 {
		return nil, fmt.Errorf("%w: successPoints cannot be negative", ErrMalformedBackup)
	}
	for _, t := range b.Tasks {
		if t.ID == "" || !t.Type.Valid() {
			return nil, fmt.Errorf("%w: task %q is invalid", ErrMalformedBackup, t.ID)
		}
	}
	return &b, nil
}

// Import replaces all state with the backup in raw. Nothing is applied
// unless the whole document is valid and the write succeeds.
func (s *BackupService) Import(ctx context.Context, raw []byte) error {
	b, err := ParseBackup(raw)
	if err != nil {
		return err
	}

	var dropped []string
	s.tasks.mu.Lock()
	err = s.tasks.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tasks := s.tasks.tasks.WithTx(tx)
		existing, err := tasks.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		keep := make(map[string]bool, len(b.Tasks))
		for _, t := range b.Tasks {
			if t.Status == model.StatusPending {
				keep[t.ID] = true
			}
		}
		for _, t := range existing {
			if !keep[t.ID] {
				dropped = append(dropped, t.ID)
			}
		}

		if err := s.tasks.courses.WithTx(tx).ReplaceAll(ctx, b.Courses, b.PerformanceData); err != nil {
			return err
		}
		if err := tasks.ReplaceAll(ctx, b.Tasks); err != nil {
			return err
		}
		rewards := s.tasks.rewards.WithTx(tx)
		if err := rewards.ReplaceAll(ctx, b.Rewards); err != nil {
			return err
		}
		if err := rewards.SetPoints(ctx, b.SuccessPoints); err != nil {
			return err
		}
		return s.badges.WithTx(tx).ReplaceAll(ctx, b.Badges)
	})
	s.tasks.mu.Unlock()
	if err != nil {
		return fmt.Errorf("import backup: %w", err)
	}

	// sessions on tasks that are gone or no longer pending must stop
	for _, id := range dropped {
		if s.tasks.snapshots != nil {
			if err := s.tasks.snapshots.Delete(ctx, id); err != nil {
				log.Printf("[warn] import: delete snapshot %s: %v", id, err)
			}
		}
		s.tasks.events.publishDeleted(ctx, TaskDeleted{TaskID: id})
	}
	log.Printf("[info] backup imported: %d courses, %d tasks, %d rewards, %d points",
		len(b.Courses), len(b.Tasks), len(b.Rewards), b.SuccessPoints)
	return nil
}

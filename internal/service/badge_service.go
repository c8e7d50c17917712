package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"edu-tracker/internal/model"
	"edu-tracker/internal/repository"
)

const (
	BadgeFirstStep      = "first-step"
	BadgeDailyVolume    = "daily-volume"
	BadgeSubjectMastery = "subject-mastery"

	DefaultMasteryCourse = "Matematik"

	dailyVolumeThreshold    = 3
	subjectMasteryThreshold = 10
)

type badgeRule struct {
	id          string
	name        string
	description func(mastery string) string
	qualifies   func(completed []model.Task, courses []model.Course, mastery string) bool
}

var badgeRules = []badgeRule{
	{
		id:          BadgeFirstStep,
		name:        "First Step",
		description: func(string) string { return "Completed your first task!" },
		qualifies: func(completed []model.Task, _ []model.Course, _ string) bool {
			return len(completed) > 0
		},
	},
	{
		id:          BadgeDailyVolume,
		name:        "Busy Bee",
		description: func(string) string { return fmt.Sprintf("Completed %d tasks in one day.", dailyVolumeThreshold) },
		qualifies: func(completed []model.Task, _ []model.Course, _ string) bool {
			perDay := make(map[string]int)
			for _, t := range completed {
				if t.CompletionDate == "" {
					continue
				}
				perDay[t.CompletionDate]++
				if perDay[t.CompletionDate] >= dailyVolumeThreshold {
					return true
				}
			}
			return false
		},
	},
	{
		id:   BadgeSubjectMastery,
		name: "Subject Master",
		description: func(mastery string) string {
			return fmt.Sprintf("Completed %d %s tasks.", subjectMasteryThreshold, mastery)
		},
		qualifies: func(completed []model.Task, courses []model.Course, mastery string) bool {
			courseID := ""
			for _, c := range courses {
				if c.Name == mastery {
					courseID = c.ID
					break
				}
			}
			if courseID == "" {
				return false
			}
			n := 0
			for _, t := range completed {
				if t.CourseID == courseID {
					n++
				}
			}
			return n >= subjectMasteryThreshold
		},
	},
}

// EvaluateBadges returns the badges the history qualifies for that are not
// already held. Only completed tasks count.
func EvaluateBadges(tasks []model.Task, courses []model.Course, held []model.Badge, masteryCourse string, now time.Time) []model.Badge {
	if masteryCourse == "" {
		masteryCourse = DefaultMasteryCourse
	}
	have := make(map[string]bool, len(held))
	for _, b := range held {
		have[b.ID] = true
	}
	completed := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.IsCompleted() {
			completed = append(completed, t)
		}
	}

	var out []model.Badge
	for _, rule := range badgeRules {
		if have[rule.id] || !rule.qualifies(completed, courses, masteryCourse) {
			continue
		}
		out = append(out, model.Badge{
			ID:          rule.id,
			Name:        rule.name,
			Description: rule.description(masteryCourse),
			AwardedAt:   now,
		})
	}
	return out
}

// BadgeService awards badges whenever a completion is committed.
type BadgeService struct {
	db            *gorm.DB
	tasks         *repository.TaskRepository
	courses       *repository.CourseRepository
	badges        *repository.BadgeRepository
	events        *Events
	masteryCourse string
	now           func() time.Time

	mu sync.Mutex
}

// NewBadgeService subscribes to TaskCompleted on events.
func NewBadgeService(db *gorm.DB, events *Events, masteryCourse string) *BadgeService {
	s := &BadgeService{
		db:            db,
		tasks:         repository.NewTaskRepository(db),
		courses:       repository.NewCourseRepository(db),
		badges:        repository.NewBadgeRepository(db),
		events:        events,
		masteryCourse: masteryCourse,
		now:           time.Now,
	}
	events.OnTaskCompleted(func(ctx context.Context, _ TaskCompleted) {
		if _, err := s.Check(ctx); err != nil {
			log.Printf("[warn] badge check: %v", err)
		}
	})
	return s
}

func (s *BadgeService) List(ctx context.Context) ([]model.Badge, error) {
	return s.badges.List(ctx)
}

// Check evaluates every rule against the committed history and awards
// what is newly earned, all in one transaction.
func (s *BadgeService) Check(ctx context.Context) ([]model.Badge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var awarded []model.Badge
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		completed, err := s.tasks.WithTx(tx).ListCompleted(ctx, time.Time{})
		if err != nil {
			return fmt.Errorf("list completed: %w", err)
		}
		courses, err := s.courses.WithTx(tx).List(ctx)
		if err != nil {
			return fmt.Errorf("list courses: %w", err)
		}
		badges := s.badges.WithTx(tx)
		held, err := badges.List(ctx)
		if err != nil {
			return fmt.Errorf("list badges: %w", err)
		}
		awarded = EvaluateBadges(completed, courses, held, s.masteryCourse, s.now())
		return badges.Award(ctx, awarded)
	})
	if err != nil {
		return nil, err
	}
	if len(awarded) > 0 {
		for _, b := range awarded {
			log.Printf("[info] badge awarded: %s", b.ID)
		}
		s.events.publishAwarded(ctx, BadgesAwarded{Badges: awarded})
	}
	return awarded, nil
}

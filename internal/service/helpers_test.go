package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"edu-tracker/internal/model"
	"edu-tracker/internal/repository"
	"edu-tracker/internal/timer"
)

type fixture struct {
	db      *gorm.DB
	events  *Events
	store   *timer.MemoryStore
	tasks   *TaskService
	courses *CourseService
	rewards *RewardService
	badges  *BadgeService
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.NewDB(repository.DriverSQLite, filepath.Join(t.TempDir(), "edu.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{
		db:     db,
		events: NewEvents(),
		store:  timer.NewMemoryStore(),
		clock:  time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	f.tasks = NewTaskService(db, f.store, f.events)
	f.tasks.now = func() time.Time { return f.clock }
	f.courses = NewCourseService(f.tasks)
	f.rewards = NewRewardService(f.tasks)
	f.badges = NewBadgeService(db, f.events, DefaultMasteryCourse)
	f.badges.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) course(t *testing.T, name string) *model.Course {
	t.Helper()
	c, err := f.courses.AddCourse(context.Background(), CourseInput{Name: name})
	require.NoError(t, err)
	return c
}

func (f *fixture) studyTask(t *testing.T, courseID string, minutes int) *model.Task {
	t.Helper()
	task, err := f.tasks.AddTask(context.Background(), TaskInput{
		CourseID:        courseID,
		Title:           "Chapter notes",
		Type:            model.TaskTypeStudy,
		PlannedDuration: minutes,
	})
	require.NoError(t, err)
	return task
}

func (f *fixture) questionTask(t *testing.T, courseID string, minutes, questions int) *model.Task {
	t.Helper()
	task, err := f.tasks.AddTask(context.Background(), TaskInput{
		CourseID:        courseID,
		Title:           "Practice set",
		Type:            model.TaskTypeQuestions,
		PlannedDuration: minutes,
		QuestionCount:   questions,
	})
	require.NoError(t, err)
	return task
}

func intPtr(v int) *int { return &v }

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"edu-tracker/internal/model"
	"edu-tracker/internal/repository"
	"edu-tracker/internal/scoring"
	"edu-tracker/internal/timer"
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	CourseID        string         `json:"courseId" validate:"required"`
	Title           string         `json:"title" validate:"notblank,max=200"`
	Description     string         `json:"description" validate:"max=2000"`
	Type            model.TaskType `json:"taskType" validate:"required"`
	PlannedDuration int            `json:"plannedDuration" validate:"gt=0,lte=1440"`
	QuestionCount   int            `json:"questionCount" validate:"gte=0"`
	BookTitle       string         `json:"bookTitle" validate:"max=200"`
	DueDate         *time.Time     `json:"dueDate"`
}

// TaskService owns the task lifecycle: creation, start, completion and
// deletion. Writes are serialized and every completion commits the task,
// the course aggregate and the wallet together.
type TaskService struct {
	db        *gorm.DB
	tasks     *repository.TaskRepository
	courses   *repository.CourseRepository
	rewards   *repository.RewardRepository
	snapshots timer.SnapshotStore
	events    *Events
	now       func() time.Time

	mu sync.Mutex
}

func NewTaskService(db *gorm.DB, snapshots timer.SnapshotStore, events *Events) *TaskService {
	return &TaskService{
		db:        db,
		tasks:     repository.NewTaskRepository(db),
		courses:   repository.NewCourseRepository(db),
		rewards:   repository.NewRewardRepository(db),
		snapshots: snapshots,
		events:    events,
		now:       time.Now,
	}
}

// AddTask creates a pending task assigned by a parent.
func (s *TaskService) AddTask(ctx context.Context, input TaskInput) (*model.Task, error) {
	return s.create(ctx, input, false)
}

// AddSelfAssigned creates a free-study task the child picked for themselves.
func (s *TaskService) AddSelfAssigned(ctx context.Context, courseID, title string, minutes int) (*model.Task, error) {
	return s.create(ctx, TaskInput{
		CourseID:        courseID,
		Title:           title,
		Type:            model.TaskTypeStudy,
		PlannedDuration: minutes,
	}, true)
}

func (s *TaskService) create(ctx context.Context, input TaskInput, selfAssigned bool) (*model.Task, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	if !input.Type.Valid() {
		return nil, fieldError("taskType", fmt.Sprintf("unknown task type %q", input.Type))
	}
	if input.Type == model.TaskTypeQuestions && input.QuestionCount <= 0 {
		return nil, fieldError("questionCount", "questionCount must be greater than 0")
	}
	if input.Type != model.TaskTypeQuestions {
		input.QuestionCount = 0
	}

	if _, err := s.courses.GetByID(ctx, input.CourseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("find course: %w", err)
	}

	task := model.Task{
		ID:              uuid.NewString(),
		CourseID:        input.CourseID,
		Title:           input.Title,
		Description:     strings.TrimSpace(input.Description),
		Type:            input.Type,
		Status:          model.StatusPending,
		PlannedDuration: input.PlannedDuration,
		QuestionCount:   input.QuestionCount,
		BookTitle:       strings.TrimSpace(input.BookTitle),
		DueDate:         input.DueDate,
		SelfAssigned:    selfAssigned,
	}

	s.mu.Lock()
	err := s.tasks.Create(ctx, &task)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	log.Printf("[info] task %s created: %q (%s, %d min)", task.ID, task.Title, task.Type, task.PlannedDuration)
	return &task, nil
}

func (s *TaskService) Get(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.tasks.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	return task, nil
}

// Exists reports whether the task row is still there, whatever its status.
func (s *TaskService) Exists(ctx context.Context, id string) (bool, error) {
	return s.tasks.Exists(ctx, id)
}

// IsPending reports whether the task exists and has not been completed.
func (s *TaskService) IsPending(ctx context.Context, id string) (bool, error) {
	task, err := s.Get(ctx, id)
	if errors.Is(err, ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !task.IsCompleted(), nil
}

func (s *TaskService) ListPending(ctx context.Context) ([]model.Task, error) {
	return s.tasks.ListPending(ctx)
}

// ListCompleted returns tasks completed at or after since; zero means all.
func (s *TaskService) ListCompleted(ctx context.Context, since time.Time) ([]model.Task, error) {
	return s.tasks.ListCompleted(ctx, since)
}

func (s *TaskService) Points(ctx context.Context) (int, error) {
	return s.rewards.Points(ctx)
}

func (s *TaskService) Performance(ctx context.Context) ([]model.Performance, error) {
	return s.courses.ListPerformance(ctx)
}

// StartTask records when work on a pending task began.
func (s *TaskService) StartTask(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	started, err := s.tasks.MarkStarted(ctx, id, s.now())
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !started {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.IsCompleted() {
			return nil, ErrTaskAlreadyCompleted
		}
	}
	return s.Get(ctx, id)
}

// CompleteTask scores the session and commits the completed task, the
// course aggregate and the wallet credit in one transaction. A missing task
// yields ErrTaskNotFound and changes nothing; of two racing completions the
// second gets ErrTaskAlreadyCompleted.
func (s *TaskService) CompleteTask(ctx context.Context, id string, c model.Completion) (*model.Task, error) {
	if err := checkCounters(c); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var done *model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tasks := s.tasks.WithTx(tx)
		task, err := tasks.FindByID(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("find task: %w", err)
		}
		if task.IsCompleted() {
			return ErrTaskAlreadyCompleted
		}

		result := scoring.Score(*task, c)
		applyCompletion(task, c, result, s.now())

		ok, err := tasks.MarkCompleted(ctx, task)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTaskAlreadyCompleted
		}

		if task.Type != model.TaskTypeReading {
			courses := s.courses.WithTx(tx)
			name := ""
			if course, err := courses.GetByID(ctx, task.CourseID); err == nil {
				name = course.Name
			}
			minutes := int(math.Round(float64(c.ActualDuration) / 60))
			if err := courses.AddPerformance(ctx, task.CourseID, name, result.CorrectAnswers, result.IncorrectAnswers, minutes); err != nil {
				return err
			}
		}
		if err := s.rewards.WithTx(tx).AddPoints(ctx, result.PointsAwarded); err != nil {
			return err
		}
		done = task
		return nil
	})
	s.mu.Unlock()

	switch {
	case errors.Is(err, ErrTaskNotFound):
		log.Printf("[warn] complete task %s: task not found", id)
		return nil, err
	case err != nil:
		return nil, err
	}

	if s.snapshots != nil {
		if err := s.snapshots.Delete(ctx, id); err != nil {
			log.Printf("[warn] complete task %s: delete snapshot: %v", id, err)
		}
	}
	log.Printf("[info] task %s completed: success=%d focus=%d points=%d",
		id, *done.SuccessScore, *done.FocusScore, done.PointsAwarded)
	s.events.publishCompleted(ctx, TaskCompleted{Task: *done, Points: done.PointsAwarded})
	return done, nil
}

func applyCompletion(task *model.Task, c model.Completion, r scoring.Result, now time.Time) {
	task.Status = model.StatusCompleted
	task.ActualDuration = c.ActualDuration
	task.BreakTime = c.BreakTime
	task.PauseTime = c.PauseTime
	if c.PagesRead != nil {
		task.PagesRead = *c.PagesRead
	}
	task.CorrectCount = r.CorrectAnswers
	task.IncorrectCount = r.IncorrectAnswers
	if task.Type == model.TaskTypeQuestions && c.EmptyCount != nil {
		task.EmptyCount = *c.EmptyCount
	}
	success, focus := r.RoundedSuccess(), r.RoundedFocus()
	task.SuccessScore = &success
	task.FocusScore = &focus
	task.PointsAwarded = r.PointsAwarded
	completedAt := now.UTC()
	task.CompletedAt = &completedAt
	task.CompletionDate = completedAt.Format(model.CompletionDateLayout)
}

// DeleteTask removes a task whatever its status. Its snapshot goes with it
// and any running session is told to stop.
func (s *TaskService) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	deleted, err := s.tasks.Delete(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !deleted {
		return ErrTaskNotFound
	}
	if s.snapshots != nil {
		if err := s.snapshots.Delete(ctx, id); err != nil {
			log.Printf("[warn] delete task %s: delete snapshot: %v", id, err)
		}
	}
	log.Printf("[info] task %s deleted", id)
	s.events.publishDeleted(ctx, TaskDeleted{TaskID: id})
	return nil
}

// CheckFinishInput applies the rules a finished session's answers must
// satisfy before they are handed to CompleteTask.
func CheckFinishInput(task model.Task, c model.Completion) error {
	if err := checkCounters(c); err != nil {
		return err
	}
	switch task.Type {
	case model.TaskTypeQuestions:
		if c.CorrectCount == nil || c.IncorrectCount == nil || c.EmptyCount == nil {
			return fieldError("correctCount", "correct, incorrect and empty counts are required")
		}
		correct, incorrect, empty := *c.CorrectCount, *c.IncorrectCount, *c.EmptyCount
		if correct < 0 || incorrect < 0 || empty < 0 {
			return fieldError("correctCount", "counts cannot be negative")
		}
		if correct+incorrect+empty != task.QuestionCount {
			return fieldError("correctCount", fmt.Sprintf("counts must add up to %d questions", task.QuestionCount))
		}
	case model.TaskTypeReading:
		if c.PagesRead == nil || *c.PagesRead <= 0 {
			return fieldError("pagesRead", "pagesRead must be greater than 0")
		}
	}
	return nil
}

// checkCounters rejects negative session counters and page counts.
func checkCounters(c model.Completion) error {
	fields := map[string]string{}
	if c.ActualDuration < 0 {
		fields["actualDuration"] = "actualDuration cannot be negative"
	}
	if c.BreakTime < 0 {
		fields["breakTime"] = "breakTime cannot be negative"
	}
	if c.PauseTime < 0 {
		fields["pauseTime"] = "pauseTime cannot be negative"
	}
	if c.PagesRead != nil && *c.PagesRead < 0 {
		fields["pagesRead"] = "pagesRead cannot be negative"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

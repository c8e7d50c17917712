package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"edu-tracker/internal/model"
)

// TaskRepository handles CRUD for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *TaskRepository) WithTx(tx *gorm.DB) *TaskRepository {
	return &TaskRepository{db: tx}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("count task: %w", err)
	}
	return n > 0, nil
}

// ListPending returns pending tasks, soonest due first, then oldest first.
func (r *TaskRepository) ListPending(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("status = ?", model.StatusPending).
		Order("due_date IS NULL, due_date ASC, created_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListCompleted returns completed tasks, most recent first. A zero since
// means no lower bound.
func (r *TaskRepository) ListCompleted(ctx context.Context, since time.Time) ([]model.Task, error) {
	var tasks []model.Task
	q := r.db.WithContext(ctx).Where("status = ?", model.StatusCompleted)
	if !since.IsZero() {
		q = q.Where("completed_at >= ?", since)
	}
	if err := q.Order("completed_at DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *TaskRepository) ListAll(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *TaskRepository) ListByCourse(ctx context.Context, courseID string) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("course_id = ?", courseID).Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// MarkStarted records the start timestamp of a pending task.
func (r *TaskRepository) MarkStarted(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Update("started_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("start task: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkCompleted writes every completion field of task, but only while the
// stored row is still pending. It reports whether the row was updated.
func (r *TaskRepository) MarkCompleted(ctx context.Context, task *model.Task) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", task.ID, model.StatusPending).
		Updates(map[string]interface{}{
			"status":          model.StatusCompleted,
			"actual_duration": task.ActualDuration,
			"break_time":      task.BreakTime,
			"pause_time":      task.PauseTime,
			"pages_read":      task.PagesRead,
			"completion_date": task.CompletionDate,
			"completed_at":    task.CompletedAt,
			"correct_count":   task.CorrectCount,
			"incorrect_count": task.IncorrectCount,
			"empty_count":     task.EmptyCount,
			"success_score":   task.SuccessScore,
			"focus_score":     task.FocusScore,
			"points_awarded":  task.PointsAwarded,
		})
	if res.Error != nil {
		return false, fmt.Errorf("complete task: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete removes a task regardless of its status.
func (r *TaskRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Task{})
	if res.Error != nil {
		return false, fmt.Errorf("delete task: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *TaskRepository) DeleteByCourse(ctx context.Context, courseID string) error {
	if err := r.db.WithContext(ctx).Where("course_id = ?", courseID).Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete course tasks: %w", err)
	}
	return nil
}

// ReplaceAll swaps the whole task collection.
func (r *TaskRepository) ReplaceAll(ctx context.Context, tasks []model.Task) error {
	db := r.db.WithContext(ctx)
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}
	if err := db.CreateInBatches(&tasks, 100).Error; err != nil {
		return fmt.Errorf("insert tasks: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"edu-tracker/internal/model"
	"edu-tracker/internal/repository"
)

type CourseInput struct {
	Name string `json:"name" validate:"notblank,max=120"`
}

// CourseService provides helpers around courses.
type CourseService struct {
	tasks   *TaskService
	courses *repository.CourseRepository
}

func NewCourseService(tasks *TaskService) *CourseService {
	return &CourseService{tasks: tasks, courses: tasks.courses}
}

// AddCourse creates the course and its empty performance aggregate.
func (s *CourseService) AddCourse(ctx context.Context, input CourseInput) (*model.Course, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	if _, err := s.courses.GetByName(ctx, input.Name); err == nil {
		return nil, fieldError("name", fmt.Sprintf("course %q already exists", input.Name))
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find course: %w", err)
	}

	course := model.Course{ID: uuid.NewString(), Name: input.Name}
	s.tasks.mu.Lock()
	err := s.courses.Create(ctx, &course)
	s.tasks.mu.Unlock()
	if err != nil {
		return nil, err
	}
	log.Printf("[info] course %s created: %q", course.ID, course.Name)
	return &course, nil
}

func (s *CourseService) List(ctx context.Context) ([]model.Course, error) {
	return s.courses.List(ctx)
}

func (s *CourseService) Get(ctx context.Context, id string) (*model.Course, error) {
	course, err := s.courses.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find course: %w", err)
	}
	return course, nil
}

// FindByName looks a course up by its exact name.
func (s *CourseService) FindByName(ctx context.Context, name string) (*model.Course, error) {
	course, err := s.courses.GetByName(ctx, strings.TrimSpace(name))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find course: %w", err)
	}
	return course, nil
}

// DeleteCourse removes the course, its aggregate and all of its tasks.
// Sessions running on those tasks are stopped the same way a single task
// deletion stops them.
func (s *CourseService) DeleteCourse(ctx context.Context, id string) error {
	var removed []model.Task
	s.tasks.mu.Lock()
	err := s.tasks.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tasks := s.tasks.tasks.WithTx(tx)
		var err error
		removed, err = tasks.ListByCourse(ctx, id)
		if err != nil {
			return fmt.Errorf("list course tasks: %w", err)
		}
		if err := tasks.DeleteByCourse(ctx, id); err != nil {
			return err
		}
		ok, err := s.courses.WithTx(tx).Delete(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCourseNotFound
		}
		return nil
	})
	s.tasks.mu.Unlock()
	if err != nil {
		return err
	}

	for _, task := range removed {
		if s.tasks.snapshots != nil {
			if err := s.tasks.snapshots.Delete(ctx, task.ID); err != nil {
				log.Printf("[warn] delete course %s: delete snapshot %s: %v", id, task.ID, err)
			}
		}
		s.tasks.events.publishDeleted(ctx, TaskDeleted{TaskID: task.ID})
	}
	log.Printf("[info] course %s deleted with %d tasks", id, len(removed))
	return nil
}

package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"edu-tracker/internal/model"
)

// CourseRepository manages courses and their performance aggregates.
type CourseRepository struct {
	db *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *CourseRepository) WithTx(tx *gorm.DB) *CourseRepository {
	return &CourseRepository{db: tx}
}

// Create inserts the course together with a zeroed aggregate row.
func (r *CourseRepository) Create(ctx context.Context, course *model.Course) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(course).Error; err != nil {
			return fmt.Errorf("create course: %w", err)
		}
		perf := model.Performance{CourseID: course.ID, CourseName: course.Name}
		if err := tx.Create(&perf).Error; err != nil {
			return fmt.Errorf("create performance: %w", err)
		}
		return nil
	})
}

func (r *CourseRepository) List(ctx context.Context) ([]model.Course, error) {
	var courses []model.Course
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&courses).Error; err != nil {
		return nil, err
	}
	return courses, nil
}

func (r *CourseRepository) GetByID(ctx context.Context, id string) (*model.Course, error) {
	var course model.Course
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&course).Error; err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *CourseRepository) GetByName(ctx context.Context, name string) (*model.Course, error) {
	var course model.Course
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&course).Error; err != nil {
		return nil, err
	}
	return &course, nil
}

// Delete removes the course and its aggregate. Tasks are the caller's concern.
func (r *CourseRepository) Delete(ctx context.Context, id string) (bool, error) {
	db := r.db.WithContext(ctx)
	if err := db.Where("course_id = ?", id).Delete(&model.Performance{}).Error; err != nil {
		return false, fmt.Errorf("delete performance: %w", err)
	}
	res := db.Where("id = ?", id).Delete(&model.Course{})
	if res.Error != nil {
		return false, fmt.Errorf("delete course: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *CourseRepository) ListPerformance(ctx context.Context) ([]model.Performance, error) {
	var rows []model.Performance
	if err := r.db.WithContext(ctx).Order("course_name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// AddPerformance increments a course's running totals, creating the row if it is missing.
func (r *CourseRepository) AddPerformance(ctx context.Context, courseID, courseName string, correct, incorrect, minutes int) error {
	row := model.Performance{
		CourseID:   courseID,
		CourseName: courseName,
		Correct:    correct,
		Incorrect:  incorrect,
		TimeSpent:  minutes,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "course_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"correct":    gorm.Expr("correct + ?", correct),
			"incorrect":  gorm.Expr("incorrect + ?", incorrect),
			"time_spent": gorm.Expr("time_spent + ?", minutes),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("update performance: %w", err)
	}
	return nil
}

// ReplaceAll swaps every course and aggregate row for the given sets.
func (r *CourseRepository) ReplaceAll(ctx context.Context, courses []model.Course, perf []model.Performance) error {
	db := r.db.WithContext(ctx)
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Performance{}).Error; err != nil {
		return fmt.Errorf("clear performance: %w", err)
	}
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Course{}).Error; err != nil {
		return fmt.Errorf("clear courses: %w", err)
	}
	if len(courses) > 0 {
		if err := db.Create(&courses).Error; err != nil {
			return fmt.Errorf("insert courses: %w", err)
		}
	}
	if len(perf) > 0 {
		if err := db.Create(&perf).Error; err != nil {
			return fmt.Errorf("insert performance: %w", err)
		}
	}
	return nil
}

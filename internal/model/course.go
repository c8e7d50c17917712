package model

import "time"

// Course groups tasks by subject (math, reading, science, etc.).
type Course struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:120" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Performance keeps running totals per course. Rows are only ever
// incremented, never recomputed from the task history.
type Performance struct {
	CourseID   string `gorm:"primaryKey;size:64" json:"courseId"`
	CourseName string `json:"courseName"`
	Correct    int    `json:"correct"`
	Incorrect  int    `json:"incorrect"`
	TimeSpent  int    `json:"timeSpent"` // minutes
}

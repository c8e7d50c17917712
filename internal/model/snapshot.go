package model

import "time"

// TimerSnapshot is the persisted form of an in-progress session, one row per task.
type TimerSnapshot struct {
	TaskID    string `gorm:"primaryKey;size:64"`
	MainTime  int
	BreakTime int
	PauseTime int
	Phase     string `gorm:"size:16"`
	UpdatedAt time.Time
}

package model

import "time"

type TaskType string

const (
	TaskTypeQuestions TaskType = "question-solving"
	TaskTypeStudy     TaskType = "study"
	TaskTypeReading   TaskType = "reading"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeQuestions, TaskTypeStudy, TaskTypeReading:
		return true
	}
	return false
}

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
)

// CompletionDateLayout is the calendar-day format of Task.CompletionDate.
const CompletionDateLayout = "2006-01-02"

// Task is a unit of assigned work. Completion fields are written together,
// once, when the task moves from pending to completed.
type Task struct {
	ID              string     `gorm:"primaryKey;size:64" json:"id"`
	CourseID        string     `gorm:"index;size:64" json:"courseId"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Type            TaskType   `gorm:"size:32" json:"taskType"`
	Status          TaskStatus `gorm:"index;size:16;default:pending" json:"status"`
	PlannedDuration int        `json:"plannedDuration"` // minutes
	QuestionCount   int        `json:"questionCount,omitempty"`
	BookTitle       string     `json:"bookTitle,omitempty"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
	SelfAssigned    bool       `gorm:"default:false" json:"isSelfAssigned,omitempty"`
	StartedAt       *time.Time `json:"startTimestamp,omitempty"`

	ActualDuration int        `json:"actualDuration,omitempty"` // seconds
	BreakTime      int        `json:"breakTime,omitempty"`      // seconds
	PauseTime      int        `json:"pauseTime,omitempty"`      // seconds
	PagesRead      int        `json:"pagesRead,omitempty"`
	CompletionDate string     `gorm:"index;size:10" json:"completionDate,omitempty"`
	CompletedAt    *time.Time `json:"completionTimestamp,omitempty"`
	CorrectCount   int        `json:"correctCount,omitempty"`
	IncorrectCount int        `json:"incorrectCount,omitempty"`
	EmptyCount     int        `json:"emptyCount,omitempty"`
	SuccessScore   *int       `json:"successScore,omitempty"`
	FocusScore     *int       `json:"focusScore,omitempty"`
	PointsAwarded  int        `json:"pointsAwarded,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (t Task) IsCompleted() bool {
	return t.Status == StatusCompleted
}

// Completion is what a finished session reports back: the timer counters
// plus the answers collected from the child.
type Completion struct {
	ActualDuration int  `json:"actualDuration"` // seconds
	BreakTime      int  `json:"breakTime"`      // seconds
	PauseTime      int  `json:"pauseTime"`      // seconds
	PagesRead      *int `json:"pagesRead,omitempty"`
	CorrectCount   *int `json:"correctCount,omitempty"`
	IncorrectCount *int `json:"incorrectCount,omitempty"`
	EmptyCount     *int `json:"emptyCount,omitempty"`
}

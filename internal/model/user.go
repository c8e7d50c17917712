package model

import "time"

// Role decides which commands a Telegram user may run.
type Role string

const (
	RoleChild  Role = "child"
	RoleParent Role = "parent"
)

// User stores Telegram user metadata.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	Role       Role `gorm:"size:16;default:child"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (u User) IsParent() bool {
	return u.Role == RoleParent
}

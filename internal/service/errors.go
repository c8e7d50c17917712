package service

import "errors"

var (
	ErrTaskNotFound         = errors.New("task not found")
	ErrTaskAlreadyCompleted = errors.New("task already completed")
	ErrCourseNotFound       = errors.New("course not found")
	ErrRewardNotFound       = errors.New("reward not found")
	ErrInsufficientPoints   = errors.New("insufficient points")
	ErrMalformedBackup      = errors.New("malformed backup")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNoActiveSession      = errors.New("no active session for task")
	ErrSessionActive        = errors.New("another session is already running")
)

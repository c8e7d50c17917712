package service

import (
	"context"
	"sync"

	"edu-tracker/internal/model"
)

// TaskCompleted is published after a completion has been committed.
type TaskCompleted struct {
	Task   model.Task
	Points int
}

// TaskDeleted is published after a task row is gone.
type TaskDeleted struct {
	TaskID string
}

type BadgesAwarded struct {
	Badges []model.Badge
}

// Events is a small synchronous in-process bus. Handlers run on the
// publisher's goroutine, in subscription order.
type Events struct {
	mu        sync.RWMutex
	completed []func(context.Context, TaskCompleted)
	deleted   []func(context.Context, TaskDeleted)
	awarded   []func(context.Context, BadgesAwarded)
}

func NewEvents() *Events {
	return &Events{}
}

func (e *Events) OnTaskCompleted(fn func(context.Context, TaskCompleted)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, fn)
}

func (e *Events) OnTaskDeleted(fn func(context.Context, TaskDeleted)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = append(e.deleted, fn)
}

func (e *Events) OnBadgesAwarded(fn func(context.Context, BadgesAwarded)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.awarded = append(e.awarded, fn)
}

func (e *Events) publishCompleted(ctx context.Context, ev TaskCompleted) {
	e.mu.RLock()
	handlers := append([]func(context.Context, TaskCompleted){}, e.completed...)
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(ctx, ev)
	}
}

func (e *Events) publishDeleted(ctx context.Context, ev TaskDeleted) {
	e.mu.RLock()
	handlers := append([]func(context.Context, TaskDeleted){}, e.deleted...)
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(ctx, ev)
	}
}

func (e *Events) publishAwarded(ctx context.Context, ev BadgesAwarded) {
	e.mu.RLock()
	handlers := append([]func(context.Context, BadgesAwarded){}, e.awarded...)
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(ctx, ev)
	}
}

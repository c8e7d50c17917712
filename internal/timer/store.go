package timer

import (
	"context"

	"edu-tracker/internal/model"
)

// SnapshotStore persists one snapshot per task id.
type SnapshotStore interface {
	Get(ctx context.Context, taskID string) (Snapshot, bool, error)
	Set(ctx context.Context, taskID string, s Snapshot) error
	Delete(ctx context.Context, taskID string) error
	List(ctx context.Context) (map[string]Snapshot, error)
}

// TaskChecker answers whether a task still exists.
type TaskChecker interface {
	Exists(ctx context.Context, taskID string) (bool, error)
}

// CompletionSink receives the final numbers of a session.
type CompletionSink interface {
	CompleteTask(ctx context.Context, taskID string, c model.Completion) (*model.Task, error)
}

package timer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"edu-tracker/internal/model"
)

// FindRecoverable returns the first pending task, in the given order, that
// has a stored snapshot. Unreadable snapshots are deleted and skipped.
func FindRecoverable(ctx context.Context, store SnapshotStore, pending []model.Task) (*model.Task, Snapshot, bool, error) {
	for i := range pending {
		task := pending[i]
		if task.Status != model.StatusPending {
			continue
		}
		snap, ok, err := store.Get(ctx, task.ID)
		if errors.Is(err, ErrInvalidSnapshot) {
			log.Printf("[warn] timer %s: dropping unreadable snapshot: %v", task.ID, err)
			if err := store.Delete(ctx, task.ID); err != nil {
				return nil, Snapshot{}, false, fmt.Errorf("delete snapshot: %w", err)
			}
			continue
		}
		if err != nil {
			return nil, Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
		}
		if ok {
			return &task, snap, true, nil
		}
	}
	return nil, Snapshot{}, false, nil
}

// PurgeOrphans deletes every snapshot for which keep reports false and
// returns how many were removed.
func PurgeOrphans(ctx context.Context, store SnapshotStore, keep func(ctx context.Context, taskID string) (bool, error)) (int, error) {
	all, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	purged := 0
	for taskID := range all {
		ok, err := keep(ctx, taskID)
		if err != nil {
			return purged, err
		}
		if ok {
			continue
		}
		if err := store.Delete(ctx, taskID); err != nil {
			return purged, fmt.Errorf("delete snapshot: %w", err)
		}
		purged++
	}
	return purged, nil
}

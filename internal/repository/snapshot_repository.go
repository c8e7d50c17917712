package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"edu-tracker/internal/model"
	"edu-tracker/internal/timer"
)

// SnapshotRepository keeps timer snapshots in the timer_snapshots table.
type SnapshotRepository struct {
	db *gorm.DB
}

var _ timer.SnapshotStore = (*SnapshotRepository)(nil)

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Get(ctx context.Context, taskID string) (timer.Snapshot, bool, error) {
	var rows []model.TimerSnapshot
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Limit(1).Find(&rows).Error; err != nil {
		return timer.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	if len(rows) == 0 {
		return timer.Snapshot{}, false, nil
	}
	s := fromRow(rows[0])
	if err := s.Validate(); err != nil {
		return timer.Snapshot{}, false, err
	}
	return s, true, nil
}

func (r *SnapshotRepository) Set(ctx context.Context, taskID string, s timer.Snapshot) error {
	row := model.TimerSnapshot{
		TaskID:    taskID,
		MainTime:  s.MainTime,
		BreakTime: s.BreakTime,
		PauseTime: s.PauseTime,
		Phase:     string(s.Phase),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"main_time", "break_time", "pause_time", "phase", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Delete(ctx context.Context, taskID string) error {
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&model.TimerSnapshot{}).Error; err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// List returns every stored snapshot, including ones that fail validation,
// so orphan purging can reach them.
func (r *SnapshotRepository) List(ctx context.Context) (map[string]timer.Snapshot, error) {
	var rows []model.TimerSnapshot
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make(map[string]timer.Snapshot, len(rows))
	for _, row := range rows {
		out[row.TaskID] = fromRow(row)
	}
	return out, nil
}

func fromRow(row model.TimerSnapshot) timer.Snapshot {
	return timer.Snapshot{
		MainTime:  row.MainTime,
		BreakTime: row.BreakTime,
		PauseTime: row.PauseTime,
		Phase:     timer.Phase(row.Phase),
	}
}

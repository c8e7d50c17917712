package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"edu-tracker/internal/model"
)

type BadgeRepository struct {
	db *gorm.DB
}

func NewBadgeRepository(db *gorm.DB) *BadgeRepository {
	return &BadgeRepository{db: db}
}

func (r *BadgeRepository) WithTx(tx *gorm.DB) *BadgeRepository {
	return &BadgeRepository{db: tx}
}

func (r *BadgeRepository) List(ctx context.Context) ([]model.Badge, error) {
	var badges []model.Badge
	if err := r.db.WithContext(ctx).Order("awarded_at ASC").Find(&badges).Error; err != nil {
		return nil, err
	}
	return badges, nil
}

// Award inserts badges, skipping ids that are already held.
func (r *BadgeRepository) Award(ctx context.Context, badges []model.Badge) error {
	if len(badges) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&badges).Error; err != nil {
		return fmt.Errorf("award badges: %w", err)
	}
	return nil
}

func (r *BadgeRepository) ReplaceAll(ctx context.Context, badges []model.Badge) error {
	db := r.db.WithContext(ctx)
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Badge{}).Error; err != nil {
		return fmt.Errorf("clear badges: %w", err)
	}
	if len(badges) == 0 {
		return nil
	}
	if err := db.Create(&badges).Error; err != nil {
		return fmt.Errorf("insert badges: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"edu-tracker/internal/model"
)

// RewardRepository stores rewards and the points wallet.
type RewardRepository struct {
	db *gorm.DB
}

func NewRewardRepository(db *gorm.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

func (r *RewardRepository) WithTx(tx *gorm.DB) *RewardRepository {
	return &RewardRepository{db: tx}
}

func (r *RewardRepository) Create(ctx context.Context, reward *model.Reward) error {
	if err := r.db.WithContext(ctx).Create(reward).Error; err != nil {
		return fmt.Errorf("create reward: %w", err)
	}
	return nil
}

func (r *RewardRepository) List(ctx context.Context) ([]model.Reward, error) {
	var rewards []model.Reward
	if err := r.db.WithContext(ctx).Order("cost ASC, name ASC").Find(&rewards).Error; err != nil {
		return nil, err
	}
	return rewards, nil
}

func (r *RewardRepository) FindByID(ctx context.Context, id string) (*model.Reward, error) {
	var reward model.Reward
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reward).Error; err != nil {
		return nil, err
	}
	return &reward, nil
}

func (r *RewardRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Reward{})
	if res.Error != nil {
		return false, fmt.Errorf("delete reward: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *RewardRepository) ReplaceAll(ctx context.Context, rewards []model.Reward) error {
	db := r.db.WithContext(ctx)
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Reward{}).Error; err != nil {
		return fmt.Errorf("clear rewards: %w", err)
	}
	if len(rewards) == 0 {
		return nil
	}
	if err := db.Create(&rewards).Error; err != nil {
		return fmt.Errorf("insert rewards: %w", err)
	}
	return nil
}

// Points returns the wallet balance; a missing wallet holds zero.
func (r *RewardRepository) Points(ctx context.Context) (int, error) {
	var w model.Wallet
	res := r.db.WithContext(ctx).Where("id = ?", model.WalletID).Limit(1).Find(&w)
	if res.Error != nil {
		return 0, fmt.Errorf("read wallet: %w", res.Error)
	}
	return w.Points, nil
}

// AddPoints credits the wallet, creating it on first use.
func (r *RewardRepository) AddPoints(ctx context.Context, points int) error {
	w := model.Wallet{ID: model.WalletID, Points: points}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"points":     gorm.Expr("points + ?", points),
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&w).Error
	if err != nil {
		return fmt.Errorf("add points: %w", err)
	}
	return nil
}

// SpendPoints debits cost only when the balance covers it. It reports
// whether the debit happened.
func (r *RewardRepository) SpendPoints(ctx context.Context, cost int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Wallet{}).
		Where("id = ? AND points >= ?", model.WalletID, cost).
		Update("points", gorm.Expr("points - ?", cost))
	if res.Error != nil {
		return false, fmt.Errorf("spend points: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SetPoints overwrites the balance.
func (r *RewardRepository) SetPoints(ctx context.Context, points int) error {
	w := model.Wallet{ID: model.WalletID, Points: points}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"points", "updated_at"}),
	}).Create(&w).Error
	if err != nil {
		return fmt.Errorf("set points: %w", err)
	}
	return nil
}

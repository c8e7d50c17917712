package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"edu-tracker/internal/model"
	"edu-tracker/internal/repository"
)

type RewardInput struct {
	Name string `json:"name" validate:"notblank,max=120"`
	Cost int    `json:"cost" validate:"gt=0"`
}

// RewardService manages the reward catalog and spending points on it.
type RewardService struct {
	tasks   *TaskService
	rewards *repository.RewardRepository
}

func NewRewardService(tasks *TaskService) *RewardService {
	return &RewardService{tasks: tasks, rewards: tasks.rewards}
}

func (s *RewardService) AddReward(ctx context.Context, input RewardInput) (*model.Reward, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	reward := model.Reward{ID: uuid.NewString(), Name: input.Name, Cost: input.Cost}
	s.tasks.mu.Lock()
	err := s.rewards.Create(ctx, &reward)
	s.tasks.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

func (s *RewardService) List(ctx context.Context) ([]model.Reward, error) {
	return s.rewards.List(ctx)
}

func (s *RewardService) DeleteReward(ctx context.Context, id string) error {
	s.tasks.mu.Lock()
	ok, err := s.rewards.Delete(ctx, id)
	s.tasks.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRewardNotFound
	}
	return nil
}

// ClaimReward spends the reward's cost from the wallet. When the balance
// does not cover it nothing changes and ErrInsufficientPoints is returned.
// It returns the claimed reward and the remaining balance.
func (s *RewardService) ClaimReward(ctx context.Context, id string) (*model.Reward, int, error) {
	s.tasks.mu.Lock()
	defer s.tasks.mu.Unlock()

	var (
		reward  *model.Reward
		balance int
	)
	err := s.tasks.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rewards := s.rewards.WithTx(tx)
		var err error
		reward, err = rewards.FindByID(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRewardNotFound
		}
		if err != nil {
			return fmt.Errorf("find reward: %w", err)
		}
		ok, err := rewards.SpendPoints(ctx, reward.Cost)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInsufficientPoints
		}
		balance, err = rewards.Points(ctx)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	log.Printf("[info] reward %s claimed for %d points, %d left", reward.ID, reward.Cost, balance)
	return reward, balance, nil
}

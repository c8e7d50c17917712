package model

import "time"

type Reward struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `json:"name"`
	Cost      int       `json:"cost"`
	CreatedAt time.Time `json:"createdAt"`
}

// Badge is an awarded achievement; the ID is the rule's fixed badge id.
type Badge struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AwardedAt   time.Time `json:"awardedAt"`
}

// Wallet holds the household's success points. There is a single row.
type Wallet struct {
	ID        uint `gorm:"primaryKey"`
	Points    int
	UpdatedAt time.Time
}

const WalletID uint = 1

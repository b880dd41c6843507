package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Campaign is the queryable projection of a campaign record.
type Campaign struct {
	Address     string `gorm:"size:64;primaryKey"`
	Vault       string `gorm:"size:64"`
	Seed        uint64
	Authority   string `gorm:"size:64;index"`
	RewardAsset string `gorm:"size:64;index"`
	PackPrice   uint64 `gorm:"not null"`
	TotalPacks  uint32 `gorm:"not null"`
	PacksSold   uint32
	MerkleRoot  string `gorm:"size:66"`
	Active      bool   `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Receipt tracks a sold pack and, once revealed, its reward.
type Receipt struct {
	Address   string `gorm:"size:64;primaryKey"`
	Campaign  string `gorm:"size:64;index;uniqueIndex:idx_receipt_pack"`
	Buyer     string `gorm:"size:64;index"`
	PackIndex uint32 `gorm:"uniqueIndex:idx_receipt_pack"`
	Price     uint64
	Claimed   bool   `gorm:"index"`
	Asset     string `gorm:"size:64"`
	Amount    uint64
	ClaimedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Withdrawal records one admin withdrawal from a campaign vault.
type Withdrawal struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Campaign  string    `gorm:"size:64;index"`
	Vault     string    `gorm:"size:64"`
	To        string    `gorm:"size:64"`
	Amount    uint64
	CreatedAt time.Time
}

// BeforeCreate assigns a fresh identifier.
func (w *Withdrawal) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// AutoMigrate creates or updates the projection tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Campaign{}, &Receipt{}, &Withdrawal{})
}

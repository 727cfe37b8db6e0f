package models

import "time"

// Wallet holds the running balance of a user. Balance is maintained incrementally by the ledger;
// OpeningBalance is the amount the wallet held before the first recorded transaction.
type Wallet struct {
	ID             uint  `gorm:"primaryKey"`
	UserID         uint  `gorm:"uniqueIndex;not null"`
	Balance        int64 `gorm:"not null;default:0"`
	OpeningBalance int64 `gorm:"not null;default:0"`
	UpdatedAt      time.Time
}

func (Wallet) TableName() string { return "wallet" }

package models

import (
	"time"

	"gorm.io/datatypes"
)

// HistoryEntry is one row of the audit trail.
type HistoryEntry struct {
	ID         uint           `gorm:"primaryKey"`
	CreatedAt  time.Time      `gorm:"index"`
	UserID     *uint          `gorm:"index"`
	Action     string         `gorm:"size:50;not null"`
	TargetType string         `gorm:"size:50"`
	TargetID   *uint          `gorm:"index"`
	Meta       datatypes.JSON `json:",omitempty"`
}

func (HistoryEntry) TableName() string { return "history" }

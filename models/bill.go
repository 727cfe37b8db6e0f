package models

import "time"

const (
	BillUnpaid = "unpaid"
	BillPaid   = "paid"
)

// Bill is a tagihan owed for one student. Status is derived from linked income transactions.
type Bill struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	StudentID uint       `gorm:"index;not null"`
	Student   *Student   `gorm:"foreignKey:StudentID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:",omitempty"`
	Title     string     `gorm:"size:150;not null"`
	Amount    int64      `gorm:"not null"`
	DueDate   *time.Time `gorm:"type:date"`
	Status    string     `gorm:"size:10;not null;default:unpaid;index"`
	CreatedBy *uint      `gorm:"index"`
	PaidAt    *time.Time
}

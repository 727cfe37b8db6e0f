package models

import "time"

const (
	TypeIncome  = "income"
	TypeExpense = "expense"
)

// Transaction is a single income or expense recorded against a user's wallet.
// Amount is always positive; Type carries the sign.
type Transaction struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	UserID      uint      `gorm:"index;not null"`
	User        User      `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	StudentID   *uint     `gorm:"index"`
	Student     *Student  `gorm:"foreignKey:StudentID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:",omitempty"`
	BillID      *uint     `gorm:"index"`
	Bill        *Bill     `gorm:"foreignKey:BillID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	Type        string    `gorm:"size:10;not null;index"`
	Category    string    `gorm:"size:100;not null;index"`
	Amount      int64     `gorm:"not null"`
	Description string    `gorm:"size:500"`
	Date        time.Time `gorm:"type:date;not null;index"`
}

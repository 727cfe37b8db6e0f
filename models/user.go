package models

import (
	"time"
)

// User model
type User struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Username       string  `gorm:"size:50;not null;unique"`
	HashedPassword []byte  `gorm:"not null" json:"-"`
	Email          string  `gorm:"size:255"`
	FullName       string  `gorm:"size:255"`
	ProfilePicture string  `gorm:"size:255"`
	RoleID         *uint   `gorm:"index"`
	Role           Role    `gorm:"foreignKey:RoleID;references:ID" json:"-"`
	Wallet         *Wallet `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}

// RoleName returns the preloaded role name, empty when Role was not loaded.
func (u User) RoleName() string {
	return u.Role.Name
}

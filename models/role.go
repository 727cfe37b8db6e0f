package models

import "time"

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
	RoleUser  = "user"
)

// Role represents user roles with numeric primary key
type Role struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Name        string `gorm:"size:32;uniqueIndex;not null"`
	Description string `gorm:"size:255"`
}

// DefaultRoles is the master list seeded on startup.
var DefaultRoles = []Role{
	{Name: RoleAdmin, Description: "full access"},
	{Name: RoleStaff, Description: "payments and bills"},
	{Name: RoleUser, Description: "regular user"},
}

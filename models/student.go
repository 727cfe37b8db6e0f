package models

import "time"

const (
	StudentActive   = "aktif"
	StudentInactive = "nonaktif"
	StudentAlumni   = "lulus"
)

// Student is a santri registered at the pondok.
type Student struct {
	ID           uint `gorm:"primaryKey"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Name         string `gorm:"size:100;not null;index"`
	NISN         string `gorm:"column:nisn;size:20;index"`
	Kelas        string `gorm:"size:20;index"`
	JenisKelamin string `gorm:"size:20"`
	Phone        string `gorm:"size:20"`
	ParentName   string `gorm:"size:100"`
	ParentPhone  string `gorm:"size:20"`
	Alamat       string `gorm:"size:255"`
	Status       string `gorm:"size:20;not null;default:aktif"`
	Photo        string `gorm:"size:255"`
}

package models

const (
	SettingPondokName     = "pondok_name"
	SettingSystemCurrency = "system_currency"
)

// Setting is a key/value application setting.
type Setting struct {
	ID    uint   `gorm:"primaryKey"`
	Key   string `gorm:"size:100;not null;uniqueIndex"`
	Value string `gorm:"type:text"`
}

// DefaultSettings are inserted when missing.
var DefaultSettings = map[string]string{
	SettingPondokName:     "Pondok Pesantren Al Huda",
	SettingSystemCurrency: "IDR",
}

package model

import "time"

// SettingModel is the GORM struct for the 'device_settings' table: one row
// per persisted field, empty string meaning absent.
type SettingModel struct {
	Key       string `gorm:"primaryKey;type:varchar(64)"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName explicitly sets the table name for GORM.
func (SettingModel) TableName() string {
	return "device_settings"
}

package models

import "time"

// Setting is one key/value row of the shared settings table. The referral
// service only reads it; the admin backend owns writes. Missing keys resolve
// to compiled-in defaults in services.SettingsService.
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

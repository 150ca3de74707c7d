package models

import "time"

// AccountStats is a local read-only snapshot of an account's quality metrics.
// Owned and managed solely by the referral service. Populated via sync worker
// from the Profile Service's public stats endpoint; the delayed reward
// processor only ever reads it.
type AccountStats struct {
	ID             string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"`

	AccountCreatedAt   time.Time  `json:"account_created_at"`
	TotalPlaytimeHours float64    `gorm:"default:0" json:"total_playtime_hours"`
	HighestCharLevel   int        `gorm:"default:0" json:"highest_char_level"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`

	SyncedAt  time.Time `json:"synced_at"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

package models

import "time"

// AntiCheatAction is what the validator decided for a redemption attempt.
type AntiCheatAction string

const (
	AntiCheatActionAccepted AntiCheatAction = "REFERRAL_ACCEPTED"
	AntiCheatActionBlocked  AntiCheatAction = "REFERRAL_BLOCKED"
)

// AntiCheatLog is written on every validation, accepted or blocked.
// Write failures are swallowed by the validator — a broken audit trail must
// never abort a registration.
type AntiCheatLog struct {
	ID              string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	IPAddress       string          `gorm:"index" json:"ip_address"`
	Fingerprint     string          `gorm:"index" json:"fingerprint"`
	ReferralCode    string          `gorm:"index" json:"referral_code"`
	Action          AntiCheatAction `gorm:"index;not null" json:"action"`
	Suspicious      bool            `gorm:"default:false" json:"suspicious"`
	DetectionReason string          `json:"detection_reason,omitempty"`
	UserAgent       string          `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
}

// RewardAuditLog records one activate/reject decision of the delayed reward
// processor, with the full qualification snapshot at decision time.
// Reschedules ("kept pending") are intentionally not audited.
type RewardAuditLog struct {
	ID          string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ReferralID  string         `gorm:"index;not null" json:"referral_id"`
	PriorStatus ReferralStatus `gorm:"not null" json:"prior_status"`
	NewStatus   ReferralStatus `gorm:"not null" json:"new_status"`
	ReasonCode  string         `json:"reason_code"`
	RewardGiven bool           `gorm:"default:false" json:"reward_given"`

	// Qualification flags at decision time.
	AgePassed      bool `json:"age_passed"`
	PlaytimePassed bool `json:"playtime_passed"`
	LevelPassed    bool `json:"level_passed"`
	LoginPassed    bool `json:"login_passed"`

	// Raw metric values and the thresholds that were in force.
	AccountAgeDays     int     `json:"account_age_days"`
	TotalPlaytimeHours float64 `json:"total_playtime_hours"`
	HighestCharLevel   int     `json:"highest_char_level"`
	DaysSinceLastLogin int     `json:"days_since_last_login"`
	MinAccountAgeDays  int     `json:"min_account_age_days"`
	MinPlaytimeHours   float64 `json:"min_playtime_hours"`
	MinCharacterLevel  int     `json:"min_character_level"`
	MinLoginDays       int     `json:"min_login_days"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

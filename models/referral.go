package models

import "time"

// ReferralStatus is the lifecycle state of a redemption.
// pending may move to active or rejected; both are terminal.
type ReferralStatus string

const (
	ReferralStatusPending  ReferralStatus = "pending"
	ReferralStatusActive   ReferralStatus = "active"
	ReferralStatusRejected ReferralStatus = "rejected"
)

// ReferralRecord is one redemption of a referrer's code by a newly created
// account. IP and fingerprint are captured once at creation and used for
// lifetime-reuse checks against other records.
type ReferralRecord struct {
	ID         string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Code       string `gorm:"index;not null" json:"code"`
	ReferrerID string `gorm:"index;not null" json:"referrer_id"` // ExternalUserID
	InvitedID  string `gorm:"uniqueIndex;not null" json:"invited_id"`

	IPAddress   string `gorm:"index" json:"ip_address"`
	Fingerprint string `gorm:"index" json:"fingerprint"`

	IsValid     bool    `gorm:"default:false" json:"is_valid"`
	CheatReason *string `json:"cheat_reason,omitempty"`

	Status             ReferralStatus `gorm:"index;not null;default:'pending'" json:"status"`
	RequiresValidation bool           `gorm:"index;default:false" json:"requires_validation"`

	PointsGiven  int64  `gorm:"default:0" json:"points_given"`
	RewardAmount int64  `gorm:"default:0" json:"reward_amount"`
	RewardType   string `gorm:"default:'points'" json:"reward_type"`

	NextProcessAt   *time.Time `gorm:"index" json:"next_process_at,omitempty"`
	ProcessAttempts int        `gorm:"default:0" json:"process_attempts"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	ValidationNotes string     `gorm:"type:text" json:"validation_notes,omitempty"`
	RewardGivenAt   *time.Time `json:"reward_given_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// IsTerminal reports whether the record can no longer change status.
func (r *ReferralRecord) IsTerminal() bool {
	return r.Status == ReferralStatusActive || r.Status == ReferralStatusRejected
}

// ReferralCode is a referrer's issued code. One active code per referrer.
type ReferralCode struct {
	ID         string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Code       string    `gorm:"uniqueIndex;not null" json:"code"`
	ReferrerID string    `gorm:"uniqueIndex;not null" json:"referrer_id"` // ExternalUserID
	Active     bool      `gorm:"default:true" json:"active"`
	Uses       int64     `gorm:"default:0" json:"uses"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

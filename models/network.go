package models

import "time"

// KnownVPNAddress is one row of the local VPN reputation table. Prefix is an
// IP prefix match ("203.0.113." covers the /24); confidence is 0..1.
// The table is seeded offline — no live reputation lookups happen here.
type KnownVPNAddress struct {
	ID         string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Prefix     string    `gorm:"index;not null" json:"prefix"`
	Provider   string    `json:"provider"`
	Confidence float64   `gorm:"default:0" json:"confidence"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// services/metrics_provider.go
package services

import (
	"errors"
	"fmt"
	"time"

	"referral-reward-system/models"

	"gorm.io/gorm"
)

// neverLoggedInDays stands in for "no login on record" so the login threshold
// always fails for dormant accounts.
const neverLoggedInDays = 100000

// QualificationMetrics are the account-quality signals the processor compares
// against the configured thresholds.
type QualificationMetrics struct {
	AccountAgeDays     int     `json:"account_age_days"`
	TotalPlaytimeHours float64 `json:"total_playtime_hours"`
	HighestCharLevel   int     `json:"highest_char_level"`
	DaysSinceLastLogin int     `json:"days_since_last_login"`
}

// MetricsProvider resolves qualification metrics for an invited account.
type MetricsProvider interface {
	GetMetrics(invitedID string) (*QualificationMetrics, error)
}

// AccountStatsProvider reads the locally mirrored account stats. A missing
// mirror row is an error: the processor treats it as a dependency failure and
// reschedules the record with backoff rather than guessing.
type AccountStatsProvider struct {
	DB *gorm.DB
}

func NewAccountStatsProvider(db *gorm.DB) *AccountStatsProvider {
	return &AccountStatsProvider{DB: db}
}

func (p *AccountStatsProvider) GetMetrics(invitedID string) (*QualificationMetrics, error) {
	var stats models.AccountStats
	if err := p.DB.Where("external_user_id = ?", invitedID).First(&stats).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no account stats mirrored for %s", invitedID)
		}
		return nil, fmt.Errorf("fetching account stats for %s: %w", invitedID, err)
	}

	now := time.Now()
	metrics := &QualificationMetrics{
		AccountAgeDays:     int(now.Sub(stats.AccountCreatedAt).Hours() / 24),
		TotalPlaytimeHours: stats.TotalPlaytimeHours,
		HighestCharLevel:   stats.HighestCharLevel,
		DaysSinceLastLogin: neverLoggedInDays,
	}
	if stats.LastLoginAt != nil {
		metrics.DaysSinceLastLogin = int(now.Sub(*stats.LastLoginAt).Hours() / 24)
	}
	return metrics, nil
}

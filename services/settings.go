// services/settings.go
package services

import (
	"log"
	"strconv"
	"strings"

	"referral-reward-system/models"

	"gorm.io/gorm"
)

// Setting keys read by the validator and the delayed reward processor.
// The settings table is owned by the admin backend; this service only reads.
const (
	KeyAntiCheatEnabled          = "anticheat_enabled"
	KeyMaxReferralsPerIP         = "max_referrals_per_ip_lifetime"
	KeyMaxReferralsPerFP         = "max_referrals_per_fingerprint_lifetime"
	KeyBlockDuplicateIP          = "block_duplicate_ip_completely"
	KeyPatternDetectionEnabled   = "pattern_detection_enabled"
	KeyRapidFireMaxAttempts      = "rapid_fire_max_attempts"
	KeyRapidFireWindowMinutes    = "rapid_fire_window_minutes"
	KeyMinFormFillTimeMs         = "min_form_fill_time_ms"
	KeyHoneypotEnabled           = "honeypot_enabled"
	KeyHoneypotFieldNames        = "honeypot_field_names"
	KeyBehavioralEnabled         = "behavioral_analysis_enabled"
	KeyRequireBehavioralData     = "require_behavioral_data"
	KeyNetworkAnalysisEnabled    = "network_analysis_enabled"
	KeyVPNBlockingEnabled        = "vpn_blocking_enabled"
	KeyVPNConfidenceThreshold    = "vpn_confidence_threshold"
	KeyHostingIPBlockingEnabled  = "hosting_ip_blocking_enabled"
	KeyDelayedRewardsEnabled     = "delayed_rewards_enabled"
	KeyPointsPerReferral         = "points_per_referral"
	KeyCronIntervalHours         = "cronjob_interval_hours"
	KeyDelayedRewardsBatchSize   = "delayed_rewards_batch_size"
	KeyMinAccountAgeDays         = "min_account_age_days"
	KeyMinPlaytimeHours          = "min_playtime_hours"
	KeyMinCharacterLevel         = "min_character_level"
	KeyMinLoginDays              = "min_login_days"
	KeyRewardGracePeriodDays     = "reward_grace_period_days"
	KeyAntiCheatLogRetentionDays = "anticheat_log_retention_days"
)

// Defaults used when a key is missing from the settings table or its value
// does not parse.
var settingDefaults = map[string]string{
	KeyAntiCheatEnabled:          "true",
	KeyMaxReferralsPerIP:         "1",
	KeyMaxReferralsPerFP:         "1",
	KeyBlockDuplicateIP:          "true",
	KeyPatternDetectionEnabled:   "true",
	KeyRapidFireMaxAttempts:      "3",
	KeyRapidFireWindowMinutes:    "5",
	KeyMinFormFillTimeMs:         "3000",
	KeyHoneypotEnabled:           "true",
	KeyHoneypotFieldNames:        "website,company_url,phone_backup",
	KeyBehavioralEnabled:         "false",
	KeyRequireBehavioralData:     "false",
	KeyNetworkAnalysisEnabled:    "true",
	KeyVPNBlockingEnabled:        "true",
	KeyVPNConfidenceThreshold:    "0.8",
	KeyHostingIPBlockingEnabled:  "false",
	KeyDelayedRewardsEnabled:     "true",
	KeyPointsPerReferral:         "100",
	KeyCronIntervalHours:         "6",
	KeyDelayedRewardsBatchSize:   "100",
	KeyMinAccountAgeDays:         "7",
	KeyMinPlaytimeHours:          "10",
	KeyMinCharacterLevel:         "10",
	KeyMinLoginDays:              "7",
	KeyRewardGracePeriodDays:     "30",
	KeyAntiCheatLogRetentionDays: "90",
}

// SettingsSource supplies raw setting values. The GORM implementation reads
// the settings table; tests substitute a map.
type SettingsSource interface {
	Get(key string) (string, bool, error)
}

type gormSettingsSource struct {
	db *gorm.DB
}

func (s *gormSettingsSource) Get(key string) (string, bool, error) {
	var row models.Setting
	if err := s.db.Where("key = ?", key).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return row.Value, true, nil
}

// SettingsService resolves typed settings with defaults for missing keys.
type SettingsService struct {
	Source SettingsSource
}

func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{Source: &gormSettingsSource{db: db}}
}

// NewSettingsServiceFromSource is the test seam.
func NewSettingsServiceFromSource(src SettingsSource) *SettingsService {
	return &SettingsService{Source: src}
}

// raw returns the stored value, or the compiled default, and whether the
// lookup itself succeeded. A store error surfaces so the validator can turn
// it into a conservative deny.
func (s *SettingsService) raw(key string) (string, error) {
	val, ok, err := s.Source.Get(key)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(val) == "" {
		return settingDefaults[key], nil
	}
	return val, nil
}

func (s *SettingsService) GetString(key string) (string, error) {
	return s.raw(key)
}

func (s *SettingsService) GetBool(key string) (bool, error) {
	val, err := s.raw(key)
	if err != nil {
		return false, err
	}
	parsed, perr := strconv.ParseBool(strings.TrimSpace(val))
	if perr != nil {
		log.Printf("⚠️ Setting %s has non-boolean value %q, using default %s", key, val, settingDefaults[key])
		parsed, _ = strconv.ParseBool(settingDefaults[key])
	}
	return parsed, nil
}

func (s *SettingsService) GetInt(key string) (int, error) {
	val, err := s.raw(key)
	if err != nil {
		return 0, err
	}
	parsed, perr := strconv.Atoi(strings.TrimSpace(val))
	if perr != nil {
		log.Printf("⚠️ Setting %s has non-integer value %q, using default %s", key, val, settingDefaults[key])
		parsed, _ = strconv.Atoi(settingDefaults[key])
	}
	return parsed, nil
}

func (s *SettingsService) GetFloat(key string) (float64, error) {
	val, err := s.raw(key)
	if err != nil {
		return 0, err
	}
	parsed, perr := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if perr != nil {
		log.Printf("⚠️ Setting %s has non-numeric value %q, using default %s", key, val, settingDefaults[key])
		parsed, _ = strconv.ParseFloat(settingDefaults[key], 64)
	}
	return parsed, nil
}

// GetStringList splits a comma-separated setting into trimmed entries.
func (s *SettingsService) GetStringList(key string) ([]string, error) {
	val, err := s.raw(key)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

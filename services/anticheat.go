// services/anticheat.go
package services

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"referral-reward-system/models"
)

// Detection reason codes surfaced to callers and stored on records.
const (
	ReasonInvalidReferralCode    = "INVALID_REFERRAL_CODE"
	ReasonIPAlreadyUsed          = "IP_ALREADY_USED_LIFETIME"
	ReasonFingerprintAlreadyUsed = "FINGERPRINT_ALREADY_USED_LIFETIME"
	ReasonSameUserMultiple       = "SAME_USER_MULTIPLE_ACCOUNTS"
	ReasonRapidFire              = "RAPID_FIRE_REGISTRATION"
	ReasonFormFilledTooFast      = "FORM_FILLED_TOO_FAST"
	ReasonHoneypotFilled         = "HONEYPOT_FIELD_FILLED"
	ReasonMissingBehavioralData  = "MISSING_BEHAVIORAL_DATA"
	ReasonRoboticMousePattern    = "ROBOTIC_MOUSE_PATTERN"
	ReasonVPNDetected            = "VPN_IP_DETECTED"
	ReasonHostingDetected        = "HOSTING_IP_DETECTED"
	ReasonAntiCheatError         = "ANTICHEAT_ERROR"
	ReasonGracePeriodExceeded    = "GRACE_PERIOD_EXCEEDED"
)

// userMessages maps machine reasons to the message shown to the registrant.
var userMessages = map[string]string{
	ReasonInvalidReferralCode:    "This referral code is not valid.",
	ReasonIPAlreadyUsed:          "A referral has already been redeemed from this network.",
	ReasonFingerprintAlreadyUsed: "A referral has already been redeemed from this device.",
	ReasonSameUserMultiple:       "This referral code was already used from your network or device.",
	ReasonRapidFire:              "Too many registration attempts. Please try again later.",
	ReasonFormFilledTooFast:      "The registration form was submitted too quickly.",
	ReasonHoneypotFilled:         "Your registration could not be verified.",
	ReasonMissingBehavioralData:  "Your registration could not be verified.",
	ReasonRoboticMousePattern:    "Your registration could not be verified.",
	ReasonVPNDetected:            "Referrals cannot be redeemed over a VPN connection.",
	ReasonHostingDetected:        "Referrals cannot be redeemed from this network.",
	ReasonAntiCheatError:         "Referral validation is temporarily unavailable.",
}

// MousePoint is one sampled cursor position from the registration page.
type MousePoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// BehavioralPayload is the optional client telemetry submitted with a
// registration.
type BehavioralPayload struct {
	FormFillDurationMs int64             `json:"form_fill_duration_ms"`
	MouseEvents        []MousePoint      `json:"mouse_events,omitempty"`
	ScrollEvents       int               `json:"scroll_events"`
	HoneypotFields     map[string]string `json:"honeypot_fields,omitempty"`
}

// ValidationInput is what the registration flow hands the validator.
type ValidationInput struct {
	Code        string
	IPAddress   string
	Fingerprint string
	UserAgent   string
	Behavioral  *BehavioralPayload
}

// ValidationResult is the validator's verdict. Reason is nil when valid.
type ValidationResult struct {
	Valid            bool     `json:"valid"`
	Reason           *string  `json:"reason,omitempty"`
	UserMessage      string   `json:"user_message,omitempty"`
	ReferrerID       string   `json:"referrer_id,omitempty"`
	SuspicionReasons []string `json:"suspicion_reasons,omitempty"`
	ConfidenceScore  float64  `json:"confidence_score"`
}

// minMouseSamples is the floor below which the mouse-pattern check only
// records suspicion instead of rejecting.
const minMouseSamples = 10

// AntiCheatService runs the fixed-order detection layers. It is stateless
// and safe for concurrent use; its only side effect is the anti-cheat log
// append, whose failures are swallowed.
type AntiCheatService struct {
	Referrals ReferralStore
	Audits    AuditStore
	Codes     CodeStore
	Network   NetworkStore
	Settings  *SettingsService
}

func NewAntiCheatService(referrals ReferralStore, audits AuditStore, codes CodeStore, network NetworkStore, settings *SettingsService) *AntiCheatService {
	return &AntiCheatService{
		Referrals: referrals,
		Audits:    audits,
		Codes:     codes,
		Network:   network,
		Settings:  settings,
	}
}

// ValidateReferral applies the detection layers in fixed order. The first
// failing layer decides the verdict; later layers do not run and cannot
// overturn it. Store or settings failures yield a conservative deny with
// ReasonAntiCheatError instead of propagating.
func (s *AntiCheatService) ValidateReferral(in ValidationInput) ValidationResult {
	rc, err := s.Codes.Resolve(in.Code)
	if err != nil {
		if errors.Is(err, ErrUnknownCode) {
			return s.finish(in, blockedResult("", ReasonInvalidReferralCode, nil))
		}
		log.Printf("❌ [ANTICHEAT] code resolution failed for %q: %v", in.Code, err)
		return s.finish(in, blockedResult("", ReasonAntiCheatError, nil))
	}

	enabled, err := s.Settings.GetBool(KeyAntiCheatEnabled)
	if err != nil {
		log.Printf("❌ [ANTICHEAT] settings unavailable: %v", err)
		return s.finish(in, blockedResult(rc.ReferrerID, ReasonAntiCheatError, nil))
	}
	if !enabled {
		// Fail-open: the toggle disables every layer.
		return s.finish(in, ValidationResult{Valid: true, ReferrerID: rc.ReferrerID, ConfidenceScore: 1.0})
	}

	reason := ""
	var suspicion []string

	runLayer := func(layer func() (string, error)) {
		if reason != "" {
			return
		}
		r, lerr := layer()
		if lerr != nil {
			log.Printf("❌ [ANTICHEAT] layer failed for code %q: %v", in.Code, lerr)
			reason = ReasonAntiCheatError
			return
		}
		reason = r
	}

	runLayer(func() (string, error) { return s.checkIPLifetime(in) })
	runLayer(func() (string, error) { return s.checkFingerprintLifetime(in) })
	runLayer(func() (string, error) { return s.checkSameReferrer(rc.ReferrerID, in) })
	runLayer(func() (string, error) { return s.checkPatterns(in) })
	runLayer(func() (string, error) { return s.checkHoneypot(in) })
	runLayer(func() (string, error) { return s.checkBehavioral(in, &suspicion) })
	runLayer(func() (string, error) { return s.checkNetwork(in, &suspicion) })

	res := ValidationResult{
		Valid:            reason == "",
		ReferrerID:       rc.ReferrerID,
		SuspicionReasons: suspicion,
	}
	if reason != "" {
		res.Reason = &reason
		res.UserMessage = userMessages[reason]
	}
	res.ConfidenceScore = confidenceScore(reason)
	return s.finish(in, res)
}

// Layer 1: lifetime IP reuse.
func (s *AntiCheatService) checkIPLifetime(in ValidationInput) (string, error) {
	if in.IPAddress == "" {
		return "", nil
	}
	max, err := s.Settings.GetInt(KeyMaxReferralsPerIP)
	if err != nil {
		return "", err
	}
	count, err := s.Referrals.CountValidCompletedByIP(in.IPAddress)
	if err != nil {
		return "", err
	}
	if count < int64(max) {
		return "", nil
	}
	blockCompletely, err := s.Settings.GetBool(KeyBlockDuplicateIP)
	if err != nil {
		return "", err
	}
	if !blockCompletely {
		return "", nil
	}
	return ReasonIPAlreadyUsed, nil
}

// Layer 2: lifetime fingerprint reuse.
func (s *AntiCheatService) checkFingerprintLifetime(in ValidationInput) (string, error) {
	if in.Fingerprint == "" {
		return "", nil
	}
	max, err := s.Settings.GetInt(KeyMaxReferralsPerFP)
	if err != nil {
		return "", err
	}
	count, err := s.Referrals.CountValidCompletedByFingerprint(in.Fingerprint)
	if err != nil {
		return "", err
	}
	if count >= int64(max) {
		return ReasonFingerprintAlreadyUsed, nil
	}
	return "", nil
}

// Layer 3: same-referrer collusion.
func (s *AntiCheatService) checkSameReferrer(referrerID string, in ValidationInput) (string, error) {
	used, err := s.Referrals.UsedAgainstReferrer(referrerID, in.IPAddress, in.Fingerprint)
	if err != nil {
		return "", err
	}
	if used {
		return ReasonSameUserMultiple, nil
	}
	return "", nil
}

// Layer 4: rapid-fire and form-timing detection.
func (s *AntiCheatService) checkPatterns(in ValidationInput) (string, error) {
	enabled, err := s.Settings.GetBool(KeyPatternDetectionEnabled)
	if err != nil {
		return "", err
	}
	if !enabled {
		return "", nil
	}

	maxAttempts, err := s.Settings.GetInt(KeyRapidFireMaxAttempts)
	if err != nil {
		return "", err
	}
	windowMinutes, err := s.Settings.GetInt(KeyRapidFireWindowMinutes)
	if err != nil {
		return "", err
	}
	if in.IPAddress != "" {
		since := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)
		attempts, err := s.Audits.CountAntiCheatByIPSince(in.IPAddress, since)
		if err != nil {
			return "", err
		}
		if attempts >= int64(maxAttempts) {
			return ReasonRapidFire, nil
		}
	}

	if in.Behavioral != nil && in.Behavioral.FormFillDurationMs > 0 {
		minMs, err := s.Settings.GetInt(KeyMinFormFillTimeMs)
		if err != nil {
			return "", err
		}
		if in.Behavioral.FormFillDurationMs < int64(minMs) {
			return ReasonFormFilledTooFast, nil
		}
	}
	return "", nil
}

// Layer 5: honeypot fields. Decoy form fields are invisible to humans; any
// non-empty value means the form was filled by automation.
func (s *AntiCheatService) checkHoneypot(in ValidationInput) (string, error) {
	enabled, err := s.Settings.GetBool(KeyHoneypotEnabled)
	if err != nil {
		return "", err
	}
	if !enabled || in.Behavioral == nil {
		return "", nil
	}
	fields, err := s.Settings.GetStringList(KeyHoneypotFieldNames)
	if err != nil {
		return "", err
	}
	for _, field := range fields {
		if strings.TrimSpace(in.Behavioral.HoneypotFields[field]) != "" {
			return ReasonHoneypotFilled, nil
		}
	}
	return "", nil
}

// Layer 6: behavioral analysis of mouse/scroll telemetry.
func (s *AntiCheatService) checkBehavioral(in ValidationInput, suspicion *[]string) (string, error) {
	enabled, err := s.Settings.GetBool(KeyBehavioralEnabled)
	if err != nil {
		return "", err
	}
	if !enabled {
		return "", nil
	}

	required, err := s.Settings.GetBool(KeyRequireBehavioralData)
	if err != nil {
		return "", err
	}
	hasData := in.Behavioral != nil && (len(in.Behavioral.MouseEvents) > 0 || in.Behavioral.ScrollEvents > 0)
	if required && !hasData {
		return ReasonMissingBehavioralData, nil
	}
	if in.Behavioral == nil || len(in.Behavioral.MouseEvents) == 0 {
		return "", nil
	}

	events := in.Behavioral.MouseEvents
	if len(events) < minMouseSamples {
		*suspicion = append(*suspicion, fmt.Sprintf("insufficient_mouse_events:%d", len(events)))
		return "", nil
	}
	if axisAlignedRatio(events) > 0.8 {
		return ReasonRoboticMousePattern, nil
	}
	return "", nil
}

// axisAlignedRatio is the share of consecutive deltas with zero horizontal or
// zero vertical movement. Human cursor paths are diagonal-heavy; scripted
// ones tend to move along one axis at a time.
func axisAlignedRatio(events []MousePoint) float64 {
	if len(events) < 2 {
		return 0
	}
	aligned := 0
	for i := 1; i < len(events); i++ {
		dx := events[i].X - events[i-1].X
		dy := events[i].Y - events[i-1].Y
		if dx == 0 || dy == 0 {
			aligned++
		}
	}
	return float64(aligned) / float64(len(events)-1)
}

// confidenceCategories groups reason codes into the eight scored detection
// categories. The score checks keyword absence in the final reason string
// rather than counting executed layers.
var confidenceCategories = [][]string{
	{"INVALID_REFERRAL"},
	{"IP_ALREADY_USED"},
	{"FINGERPRINT_ALREADY_USED"},
	{"SAME_USER"},
	{"RAPID_FIRE", "FORM_FILLED"},
	{"HONEYPOT"},
	{"BEHAVIORAL", "MOUSE"},
	{"VPN", "HOSTING"},
}

func confidenceScore(reason string) float64 {
	passed := 0
	for _, keywords := range confidenceCategories {
		hit := false
		for _, kw := range keywords {
			if strings.Contains(reason, kw) {
				hit = true
				break
			}
		}
		if !hit {
			passed++
		}
	}
	return float64(passed) / float64(len(confidenceCategories))
}

func blockedResult(referrerID, reason string, suspicion []string) ValidationResult {
	return ValidationResult{
		Valid:            false,
		Reason:           &reason,
		UserMessage:      userMessages[reason],
		ReferrerID:       referrerID,
		SuspicionReasons: suspicion,
		ConfidenceScore:  confidenceScore(reason),
	}
}

// finish writes the anti-cheat log entry and returns the result unchanged.
// Log failures must never change the verdict or reach the caller.
func (s *AntiCheatService) finish(in ValidationInput, res ValidationResult) ValidationResult {
	entry := &models.AntiCheatLog{
		IPAddress:    in.IPAddress,
		Fingerprint:  in.Fingerprint,
		ReferralCode: in.Code,
		Action:       models.AntiCheatActionAccepted,
		Suspicious:   len(res.SuspicionReasons) > 0,
		UserAgent:    in.UserAgent,
		CreatedAt:    time.Now(),
	}
	if !res.Valid {
		entry.Action = models.AntiCheatActionBlocked
		entry.Suspicious = true
		if res.Reason != nil {
			entry.DetectionReason = *res.Reason
		}
	} else if len(res.SuspicionReasons) > 0 {
		entry.DetectionReason = strings.Join(res.SuspicionReasons, ";")
	}

	if err := s.Audits.AppendAntiCheat(entry); err != nil {
		log.Printf("⚠️ [ANTICHEAT] failed to write log entry for code %q: %v", in.Code, err)
	}
	return res
}

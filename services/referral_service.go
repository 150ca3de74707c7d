// services/referral_service.go
package services

import (
	"fmt"
	"log"
	"strings"
	"time"

	"referral-reward-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// initialProcessDelay is how long a newly created PENDING record waits before
// its first processor evaluation.
const initialProcessDelay = 24 * time.Hour

// ReferralService is the registration-side boundary: it runs the validator
// once per redemption and writes the initial ReferralRecord. It also owns
// referral code issuance.
type ReferralService struct {
	Referrals ReferralStore
	Codes     CodeStore
	AntiCheat *AntiCheatService
	Settings  *SettingsService
}

func NewReferralService(referrals ReferralStore, codes CodeStore, antiCheat *AntiCheatService, settings *SettingsService) *ReferralService {
	return &ReferralService{
		Referrals: referrals,
		Codes:     codes,
		AntiCheat: antiCheat,
		Settings:  settings,
	}
}

// RedeemReferral validates a supplied code and records the redemption for the
// freshly created invited account. The returned result is what registration
// surfaces to the user; record bookkeeping failures are logged and swallowed
// so they can never fail the surrounding registration.
func (s *ReferralService) RedeemReferral(invitedID string, in ValidationInput) ValidationResult {
	result := s.AntiCheat.ValidateReferral(in)

	if err := s.recordRedemption(invitedID, in, result); err != nil {
		log.Printf("⚠️ [REFERRAL] bookkeeping failed for invited %s (code %s): %v", invitedID, in.Code, err)
	}
	return result
}

// recordRedemption writes the initial record per the validator verdict and
// the delayed-rewards toggle:
//
//	invalid           → rejected, nothing promised
//	valid, immediate  → active, points granted now
//	valid, delayed    → pending, promised amount, due in 24h
func (s *ReferralService) recordRedemption(invitedID string, in ValidationInput, result ValidationResult) error {
	if result.ReferrerID == "" && result.Valid {
		return fmt.Errorf("valid verdict without referrer for code %q", in.Code)
	}

	rec := &models.ReferralRecord{
		Code:        in.Code,
		ReferrerID:  result.ReferrerID,
		InvitedID:   invitedID,
		IPAddress:   in.IPAddress,
		Fingerprint: in.Fingerprint,
		IsValid:     result.Valid,
		RewardType:  "points",
	}

	if !result.Valid {
		rec.Status = models.ReferralStatusRejected
		rec.CheatReason = result.Reason
		if err := s.Referrals.Create(rec); err != nil {
			return fmt.Errorf("creating rejected record: %w", err)
		}
		return nil
	}

	points, err := s.Settings.GetInt(KeyPointsPerReferral)
	if err != nil {
		return fmt.Errorf("reading points per referral: %w", err)
	}
	delayed, err := s.Settings.GetBool(KeyDelayedRewardsEnabled)
	if err != nil {
		return fmt.Errorf("reading delayed rewards toggle: %w", err)
	}

	if delayed {
		due := time.Now().Add(initialProcessDelay)
		rec.Status = models.ReferralStatusPending
		rec.RequiresValidation = true
		rec.RewardAmount = int64(points)
		rec.NextProcessAt = &due
	} else {
		now := time.Now()
		rec.Status = models.ReferralStatusActive
		rec.PointsGiven = int64(points)
		rec.RewardAmount = int64(points)
		rec.RewardGivenAt = &now
	}

	if err := s.Referrals.Create(rec); err != nil {
		return fmt.Errorf("creating referral record: %w", err)
	}
	if err := s.Codes.IncrementUses(in.Code); err != nil {
		// Uses is a convenience counter, not part of the state machine.
		log.Printf("⚠️ [REFERRAL] failed to bump uses for code %s: %v", in.Code, err)
	}
	return nil
}

// EnsureCode returns the referrer's code, issuing one on first use. Codes are
// a slug of the username plus a short random suffix so they stay readable in
// share links.
func (s *ReferralService) EnsureCode(referrerID, username string) (*models.ReferralCode, error) {
	existing, err := s.Codes.ByReferrer(referrerID)
	if err == nil {
		return existing, nil
	}

	base := slug.Make(username)
	if base == "" {
		base = "player"
	}
	if len(base) > 20 {
		base = base[:20]
	}
	suffix := strings.Split(uuid.NewString(), "-")[0]
	code := &models.ReferralCode{
		Code:       fmt.Sprintf("%s-%s", base, suffix),
		ReferrerID: referrerID,
		Active:     true,
	}
	if err := s.Codes.Create(code); err != nil {
		return nil, fmt.Errorf("issuing referral code: %w", err)
	}
	log.Printf("✅ Issued referral code %s for referrer %s", code.Code, referrerID)
	return code, nil
}

// Summary returns the caller's referral counts and earned points.
func (s *ReferralService) Summary(referrerID string) (*ReferrerSummary, error) {
	return s.Referrals.SummaryForReferrer(referrerID)
}

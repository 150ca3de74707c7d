package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"referral-reward-system/models"
)

func newTestReferralService(settings map[string]string) (*ReferralService, *fakeReferralStore, *fakeCodeStore) {
	refs := newFakeReferralStore()
	audits := newFakeAuditStore()
	codes := newFakeCodeStore(&models.ReferralCode{Code: "alice-1a2b", ReferrerID: "referrer-1", Active: true})
	network := &fakeNetworkStore{}
	ss := newTestSettings(settings)
	antiCheat := NewAntiCheatService(refs, audits, codes, network, ss)
	return NewReferralService(refs, codes, antiCheat, ss), refs, codes
}

func singleRecord(t *testing.T, refs *fakeReferralStore) *models.ReferralRecord {
	t.Helper()
	refs.mu.Lock()
	defer refs.mu.Unlock()
	if len(refs.records) != 1 {
		t.Fatalf("expected exactly 1 record, got %d", len(refs.records))
	}
	for _, rec := range refs.records {
		return rec
	}
	return nil
}

func TestRedeemReferral_DelayedRewardsPending(t *testing.T) {
	svc, refs, codes := newTestReferralService(nil)

	before := time.Now()
	res := svc.RedeemReferral("invited-1", cleanInput())
	if !res.Valid {
		t.Fatalf("clean redemption rejected: %v", *res.Reason)
	}

	rec := singleRecord(t, refs)
	if rec.Status != models.ReferralStatusPending || !rec.RequiresValidation {
		t.Errorf("record = status %s requires %t, want pending/true", rec.Status, rec.RequiresValidation)
	}
	if rec.RewardAmount != 100 {
		t.Errorf("reward_amount = %d, want 100", rec.RewardAmount)
	}
	if rec.PointsGiven != 0 {
		t.Errorf("points_given = %d, delayed redemption must not grant yet", rec.PointsGiven)
	}
	if rec.NextProcessAt == nil {
		t.Fatal("next_process_at should be set")
	}
	wantDue := before.Add(initialProcessDelay)
	if rec.NextProcessAt.Before(wantDue.Add(-time.Minute)) || rec.NextProcessAt.After(wantDue.Add(time.Minute)) {
		t.Errorf("next_process_at = %v, want ~%v", rec.NextProcessAt, wantDue)
	}
	if rec.ReferrerID != "referrer-1" || rec.InvitedID != "invited-1" {
		t.Errorf("record parties = %s/%s", rec.ReferrerID, rec.InvitedID)
	}

	if codes.codes["alice-1a2b"].Uses != 1 {
		t.Errorf("code uses = %d, want 1", codes.codes["alice-1a2b"].Uses)
	}
}

func TestRedeemReferral_ImmediateWhenDelayedDisabled(t *testing.T) {
	svc, refs, _ := newTestReferralService(map[string]string{KeyDelayedRewardsEnabled: "false"})

	res := svc.RedeemReferral("invited-1", cleanInput())
	if !res.Valid {
		t.Fatalf("clean redemption rejected: %v", *res.Reason)
	}

	rec := singleRecord(t, refs)
	if rec.Status != models.ReferralStatusActive {
		t.Errorf("status = %s, want active", rec.Status)
	}
	if rec.RequiresValidation {
		t.Error("immediate grant must not enter the processor queue")
	}
	if rec.PointsGiven != 100 || rec.RewardAmount != 100 {
		t.Errorf("points_given/reward_amount = %d/%d, want 100/100", rec.PointsGiven, rec.RewardAmount)
	}
	if rec.RewardGivenAt == nil {
		t.Error("reward_given_at should be set on immediate grant")
	}
}

func TestRedeemReferral_InvalidWritesRejectedRecord(t *testing.T) {
	svc, refs, codes := newTestReferralService(nil)

	in := cleanInput()
	in.Code = "no-such-code"
	res := svc.RedeemReferral("invited-1", in)
	if res.Valid {
		t.Fatal("unknown code accepted")
	}

	rec := singleRecord(t, refs)
	if rec.Status != models.ReferralStatusRejected {
		t.Errorf("status = %s, want rejected", rec.Status)
	}
	if rec.IsValid {
		t.Error("rejected record must carry is_valid=false")
	}
	if rec.CheatReason == nil || *rec.CheatReason != ReasonInvalidReferralCode {
		t.Errorf("cheat_reason = %v, want %s", rec.CheatReason, ReasonInvalidReferralCode)
	}
	if rec.RewardAmount != 0 || rec.PointsGiven != 0 || rec.NextProcessAt != nil {
		t.Error("rejected record must promise nothing")
	}
	if codes.codes["alice-1a2b"].Uses != 0 {
		t.Error("rejected redemption must not bump code uses")
	}
}

func TestRedeemReferral_BookkeepingFailureSwallowed(t *testing.T) {
	svc, refs, _ := newTestReferralService(nil)
	refs.createErr = errors.New("connection refused")

	res := svc.RedeemReferral("invited-1", cleanInput())
	if !res.Valid {
		t.Fatal("storage failure must not change the user-facing verdict")
	}
}

func TestEnsureCode_IssuesOnce(t *testing.T) {
	svc, _, codes := newTestReferralService(nil)

	first, err := svc.EnsureCode("referrer-2", "Bob The Builder")
	if err != nil {
		t.Fatalf("EnsureCode() error = %v", err)
	}
	if !strings.HasPrefix(first.Code, "bob-the-builder-") {
		t.Errorf("code = %q, want slugged username prefix", first.Code)
	}
	if !first.Active {
		t.Error("issued code should be active")
	}

	second, err := svc.EnsureCode("referrer-2", "Bob The Builder")
	if err != nil {
		t.Fatalf("second EnsureCode() error = %v", err)
	}
	if second.Code != first.Code {
		t.Errorf("repeat call issued a new code: %q vs %q", second.Code, first.Code)
	}
	if len(codes.codes) != 2 { // the seeded code plus one issued
		t.Errorf("store holds %d codes, want 2", len(codes.codes))
	}
}

func TestEnsureCode_UnsluggableUsernameFallsBack(t *testing.T) {
	svc, _, _ := newTestReferralService(nil)

	code, err := svc.EnsureCode("referrer-3", "!!!")
	if err != nil {
		t.Fatalf("EnsureCode() error = %v", err)
	}
	if !strings.HasPrefix(code.Code, "player-") {
		t.Errorf("code = %q, want player- fallback", code.Code)
	}
}

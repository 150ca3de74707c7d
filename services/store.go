// services/store.go
package services

import (
	"errors"
	"fmt"
	"time"

	"referral-reward-system/models"

	"gorm.io/gorm"
)

var (
	// ErrUnknownCode means the referral code does not resolve to a referrer.
	ErrUnknownCode = errors.New("unknown or inactive referral code")
	// ErrNotPending means a manual override targeted a terminal record.
	ErrNotPending = errors.New("referral record is not pending")
)

// ReferralStore is the persistence boundary for referral records. The GORM
// implementation is the production one; tests substitute in-memory fakes.
type ReferralStore interface {
	Create(rec *models.ReferralRecord) error
	Save(rec *models.ReferralRecord) error
	GetByID(id string) (*models.ReferralRecord, error)
	// DuePending returns up to limit pending records whose next_process_at is
	// null or due, oldest-created-first.
	DuePending(limit int, now time.Time) ([]models.ReferralRecord, error)
	// CountValidCompletedByIP counts prior valid, non-rejected referrals from
	// this IP (lifetime, no time bound).
	CountValidCompletedByIP(ip string) (int64, error)
	CountValidCompletedByFingerprint(fp string) (int64, error)
	// UsedAgainstReferrer reports whether this IP or fingerprint was already
	// used to redeem this specific referrer's code. Empty identifiers are
	// skipped; with both empty the answer is always false.
	UsedAgainstReferrer(referrerID, ip, fingerprint string) (bool, error)
	CountByStatus() (map[models.ReferralStatus]int64, error)
	SummaryForReferrer(referrerID string) (*ReferrerSummary, error)
}

// ReferrerSummary backs the user-facing referral summary endpoint.
type ReferrerSummary struct {
	TotalInvited int64 `json:"total_invited"`
	Pending      int64 `json:"pending"`
	Activated    int64 `json:"activated"`
	Rejected     int64 `json:"rejected"`
	PointsEarned int64 `json:"points_earned"`
}

// AuditStore is the append-only audit boundary.
type AuditStore interface {
	AppendAntiCheat(entry *models.AntiCheatLog) error
	AppendRewardAudit(entry *models.RewardAuditLog) error
	CountAntiCheatByIPSince(ip string, since time.Time) (int64, error)
	CountRewardAuditsSince(since time.Time) (int64, error)
	AntiCheatLogsBefore(cutoff time.Time, limit int) ([]models.AntiCheatLog, error)
	DeleteAntiCheatLogs(ids []string) error
}

// CodeStore resolves and issues referral codes.
type CodeStore interface {
	Resolve(code string) (*models.ReferralCode, error)
	ByReferrer(referrerID string) (*models.ReferralCode, error)
	Create(code *models.ReferralCode) error
	IncrementUses(code string) error
}

// NetworkStore answers VPN reputation lookups from the local table.
type NetworkStore interface {
	MatchVPN(ip string) (*models.KnownVPNAddress, error)
}

// --- GORM implementations ---

type GormReferralStore struct {
	DB *gorm.DB
}

func NewGormReferralStore(db *gorm.DB) *GormReferralStore {
	return &GormReferralStore{DB: db}
}

func (s *GormReferralStore) Create(rec *models.ReferralRecord) error {
	return s.DB.Create(rec).Error
}

func (s *GormReferralStore) Save(rec *models.ReferralRecord) error {
	return s.DB.Save(rec).Error
}

func (s *GormReferralStore) GetByID(id string) (*models.ReferralRecord, error) {
	var rec models.ReferralRecord
	if err := s.DB.First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormReferralStore) DuePending(limit int, now time.Time) ([]models.ReferralRecord, error) {
	var recs []models.ReferralRecord
	err := s.DB.
		Where("status = ? AND requires_validation = ?", models.ReferralStatusPending, true).
		Where("next_process_at IS NULL OR next_process_at <= ?", now).
		Order("created_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (s *GormReferralStore) CountValidCompletedByIP(ip string) (int64, error) {
	var count int64
	err := s.DB.Model(&models.ReferralRecord{}).
		Where("ip_address = ? AND is_valid = ? AND status <> ?", ip, true, models.ReferralStatusRejected).
		Count(&count).Error
	return count, err
}

func (s *GormReferralStore) CountValidCompletedByFingerprint(fp string) (int64, error) {
	var count int64
	err := s.DB.Model(&models.ReferralRecord{}).
		Where("fingerprint = ? AND is_valid = ? AND status <> ?", fp, true, models.ReferralStatusRejected).
		Count(&count).Error
	return count, err
}

func (s *GormReferralStore) UsedAgainstReferrer(referrerID, ip, fingerprint string) (bool, error) {
	// Empty identifiers must not match empty columns on unrelated records.
	q := s.DB.Model(&models.ReferralRecord{}).Where("referrer_id = ?", referrerID)
	switch {
	case ip != "" && fingerprint != "":
		q = q.Where("ip_address = ? OR fingerprint = ?", ip, fingerprint)
	case ip != "":
		q = q.Where("ip_address = ?", ip)
	case fingerprint != "":
		q = q.Where("fingerprint = ?", fingerprint)
	default:
		return false, nil
	}
	var count int64
	err := q.Count(&count).Error
	return count > 0, err
}

func (s *GormReferralStore) CountByStatus() (map[models.ReferralStatus]int64, error) {
	type row struct {
		Status models.ReferralStatus
		N      int64
	}
	var rows []row
	err := s.DB.Model(&models.ReferralRecord{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.ReferralStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

func (s *GormReferralStore) SummaryForReferrer(referrerID string) (*ReferrerSummary, error) {
	counts := map[models.ReferralStatus]int64{}
	type row struct {
		Status models.ReferralStatus
		N      int64
	}
	var rows []row
	if err := s.DB.Model(&models.ReferralRecord{}).
		Select("status, count(*) as n").
		Where("referrer_id = ?", referrerID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.Status] = r.N
	}

	var points int64
	if err := s.DB.Model(&models.ReferralRecord{}).
		Where("referrer_id = ?", referrerID).
		Select("COALESCE(SUM(points_given), 0)").
		Scan(&points).Error; err != nil {
		return nil, err
	}

	return &ReferrerSummary{
		TotalInvited: counts[models.ReferralStatusPending] + counts[models.ReferralStatusActive] + counts[models.ReferralStatusRejected],
		Pending:      counts[models.ReferralStatusPending],
		Activated:    counts[models.ReferralStatusActive],
		Rejected:     counts[models.ReferralStatusRejected],
		PointsEarned: points,
	}, nil
}

type GormAuditStore struct {
	DB *gorm.DB
}

func NewGormAuditStore(db *gorm.DB) *GormAuditStore {
	return &GormAuditStore{DB: db}
}

func (s *GormAuditStore) AppendAntiCheat(entry *models.AntiCheatLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return s.DB.Create(entry).Error
}

func (s *GormAuditStore) AppendRewardAudit(entry *models.RewardAuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return s.DB.Create(entry).Error
}

func (s *GormAuditStore) CountAntiCheatByIPSince(ip string, since time.Time) (int64, error) {
	var count int64
	err := s.DB.Model(&models.AntiCheatLog{}).
		Where("ip_address = ? AND created_at >= ?", ip, since).
		Count(&count).Error
	return count, err
}

func (s *GormAuditStore) CountRewardAuditsSince(since time.Time) (int64, error) {
	var count int64
	err := s.DB.Model(&models.RewardAuditLog{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

func (s *GormAuditStore) AntiCheatLogsBefore(cutoff time.Time, limit int) ([]models.AntiCheatLog, error) {
	var logs []models.AntiCheatLog
	err := s.DB.
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func (s *GormAuditStore) DeleteAntiCheatLogs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.DB.Delete(&models.AntiCheatLog{}, "id IN ?", ids).Error
}

type GormCodeStore struct {
	DB *gorm.DB
}

func NewGormCodeStore(db *gorm.DB) *GormCodeStore {
	return &GormCodeStore{DB: db}
}

func (s *GormCodeStore) Resolve(code string) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	if err := s.DB.Where("code = ? AND active = ?", code, true).First(&rc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownCode
		}
		return nil, fmt.Errorf("resolving referral code: %w", err)
	}
	return &rc, nil
}

func (s *GormCodeStore) ByReferrer(referrerID string) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	if err := s.DB.Where("referrer_id = ?", referrerID).First(&rc).Error; err != nil {
		return nil, err
	}
	return &rc, nil
}

func (s *GormCodeStore) Create(code *models.ReferralCode) error {
	return s.DB.Create(code).Error
}

func (s *GormCodeStore) IncrementUses(code string) error {
	return s.DB.Model(&models.ReferralCode{}).
		Where("code = ?", code).
		UpdateColumn("uses", gorm.Expr("uses + 1")).Error
}

type GormNetworkStore struct {
	DB *gorm.DB
}

func NewGormNetworkStore(db *gorm.DB) *GormNetworkStore {
	return &GormNetworkStore{DB: db}
}

// MatchVPN returns the highest-confidence prefix entry covering ip, or nil.
func (s *GormNetworkStore) MatchVPN(ip string) (*models.KnownVPNAddress, error) {
	var match models.KnownVPNAddress
	err := s.DB.
		Where("? LIKE prefix || '%'", ip).
		Order("confidence DESC").
		First(&match).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &match, nil
}

package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"referral-reward-system/models"

	"gorm.io/gorm"
)

// In-memory fakes over the store interfaces so the validator and processor
// run without a database.

type fakeSettingsSource struct {
	vals map[string]string
	err  error
}

func (f *fakeSettingsSource) Get(key string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.vals[key]
	return v, ok, nil
}

func newTestSettings(overrides map[string]string) *SettingsService {
	vals := map[string]string{}
	for k, v := range overrides {
		vals[k] = v
	}
	return NewSettingsServiceFromSource(&fakeSettingsSource{vals: vals})
}

type fakeReferralStore struct {
	mu      sync.Mutex
	seq     int
	records map[string]*models.ReferralRecord

	createErr error
	saveErr   error
	countErr  error
}

func newFakeReferralStore() *fakeReferralStore {
	return &fakeReferralStore{records: map[string]*models.ReferralRecord{}}
}

func (f *fakeReferralStore) add(rec models.ReferralRecord) *models.ReferralRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("ref-%d", f.seq)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().Add(time.Duration(f.seq) * time.Millisecond)
	}
	stored := rec
	f.records[stored.ID] = &stored
	return &stored
}

func (f *fakeReferralStore) Create(rec *models.ReferralRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	stored := f.add(*rec)
	*rec = *stored
	return nil
}

func (f *fakeReferralStore) Save(rec *models.ReferralRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *rec
	f.records[rec.ID] = &copied
	return nil
}

func (f *fakeReferralStore) GetByID(id string) (*models.ReferralRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeReferralStore) DuePending(limit int, now time.Time) ([]models.ReferralRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []models.ReferralRecord
	for _, rec := range f.records {
		if rec.Status != models.ReferralStatusPending || !rec.RequiresValidation {
			continue
		}
		if rec.NextProcessAt != nil && rec.NextProcessAt.After(now) {
			continue
		}
		due = append(due, *rec)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeReferralStore) CountValidCompletedByIP(ip string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, rec := range f.records {
		if rec.IPAddress == ip && rec.IsValid && rec.Status != models.ReferralStatusRejected {
			n++
		}
	}
	return n, nil
}

func (f *fakeReferralStore) CountValidCompletedByFingerprint(fp string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, rec := range f.records {
		if rec.Fingerprint == fp && rec.IsValid && rec.Status != models.ReferralStatusRejected {
			n++
		}
	}
	return n, nil
}

func (f *fakeReferralStore) UsedAgainstReferrer(referrerID, ip, fingerprint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ReferrerID != referrerID {
			continue
		}
		if (ip != "" && rec.IPAddress == ip) || (fingerprint != "" && rec.Fingerprint == fingerprint) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReferralStore) CountByStatus() (map[models.ReferralStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[models.ReferralStatus]int64{}
	for _, rec := range f.records {
		out[rec.Status]++
	}
	return out, nil
}

func (f *fakeReferralStore) SummaryForReferrer(referrerID string) (*ReferrerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary := &ReferrerSummary{}
	for _, rec := range f.records {
		if rec.ReferrerID != referrerID {
			continue
		}
		summary.TotalInvited++
		switch rec.Status {
		case models.ReferralStatusPending:
			summary.Pending++
		case models.ReferralStatusActive:
			summary.Activated++
		case models.ReferralStatusRejected:
			summary.Rejected++
		}
		summary.PointsEarned += rec.PointsGiven
	}
	return summary, nil
}

type fakeAuditStore struct {
	mu        sync.Mutex
	antiCheat []models.AntiCheatLog
	rewards   []models.RewardAuditLog

	appendAntiCheatErr error
	appendRewardErr    error
}

func newFakeAuditStore() *fakeAuditStore {
	return &fakeAuditStore{}
}

func (f *fakeAuditStore) AppendAntiCheat(entry *models.AntiCheatLog) error {
	if f.appendAntiCheatErr != nil {
		return f.appendAntiCheatErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.antiCheat = append(f.antiCheat, *entry)
	return nil
}

func (f *fakeAuditStore) AppendRewardAudit(entry *models.RewardAuditLog) error {
	if f.appendRewardErr != nil {
		return f.appendRewardErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rewards = append(f.rewards, *entry)
	return nil
}

func (f *fakeAuditStore) CountAntiCheatByIPSince(ip string, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, entry := range f.antiCheat {
		if entry.IPAddress == ip && !entry.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeAuditStore) CountRewardAuditsSince(since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, entry := range f.rewards {
		if !entry.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeAuditStore) AntiCheatLogsBefore(cutoff time.Time, limit int) ([]models.AntiCheatLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AntiCheatLog
	for _, entry := range f.antiCheat {
		if entry.CreatedAt.Before(cutoff) {
			out = append(out, entry)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeAuditStore) DeleteAntiCheatLogs(ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	keep := f.antiCheat[:0]
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	for _, entry := range f.antiCheat {
		if !drop[entry.ID] {
			keep = append(keep, entry)
		}
	}
	f.antiCheat = keep
	return nil
}

type fakeCodeStore struct {
	mu         sync.Mutex
	codes      map[string]*models.ReferralCode
	resolveErr error
}

func newFakeCodeStore(codes ...*models.ReferralCode) *fakeCodeStore {
	f := &fakeCodeStore{codes: map[string]*models.ReferralCode{}}
	for _, c := range codes {
		f.codes[c.Code] = c
	}
	return f
}

func (f *fakeCodeStore) Resolve(code string) (*models.ReferralCode, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rc, ok := f.codes[code]
	if !ok || !rc.Active {
		return nil, ErrUnknownCode
	}
	copied := *rc
	return &copied, nil
}

func (f *fakeCodeStore) ByReferrer(referrerID string) (*models.ReferralCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rc := range f.codes {
		if rc.ReferrerID == referrerID {
			copied := *rc
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCodeStore) Create(code *models.ReferralCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code.ID == "" {
		code.ID = "code-" + code.Code
	}
	copied := *code
	f.codes[code.Code] = &copied
	return nil
}

func (f *fakeCodeStore) IncrementUses(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rc, ok := f.codes[code]; ok {
		rc.Uses++
	}
	return nil
}

type fakeNetworkStore struct {
	match *models.KnownVPNAddress
	err   error
}

func (f *fakeNetworkStore) MatchVPN(ip string) (*models.KnownVPNAddress, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.match, nil
}

type fakeMetricsProvider struct {
	mu      sync.Mutex
	metrics map[string]*QualificationMetrics
	err     error
	calls   []string
}

func newFakeMetricsProvider() *fakeMetricsProvider {
	return &fakeMetricsProvider{metrics: map[string]*QualificationMetrics{}}
}

func (f *fakeMetricsProvider) GetMetrics(invitedID string) (*QualificationMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, invitedID)
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.metrics[invitedID]
	if !ok {
		return nil, fmt.Errorf("no account stats mirrored for %s", invitedID)
	}
	copied := *m
	return &copied, nil
}

type disburseCall struct {
	ReferrerID string
	InvitedID  string
	Amount     int64
	RewardType string
}

type fakeDisburser struct {
	mu    sync.Mutex
	calls []disburseCall
	err   error
}

func (f *fakeDisburser) Disburse(referrerID, invitedID string, amount int64, rewardType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, disburseCall{referrerID, invitedID, amount, rewardType})
	return f.err
}

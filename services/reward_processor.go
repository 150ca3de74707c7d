// services/reward_processor.go
package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"referral-reward-system/models"
)

const (
	// rescheduleDelay is how long an unqualified in-grace record waits.
	rescheduleDelay = 24 * time.Hour
	// errorRetryDelay is the backoff after a per-record processing failure.
	errorRetryDelay = 2 * time.Hour
)

// BatchResult summarizes one processor run.
type BatchResult struct {
	Processed   int           `json:"processed"`
	Activated   int           `json:"activated"`
	Rejected    int           `json:"rejected"`
	KeptPending int           `json:"kept_pending"`
	Errors      int           `json:"errors"`
	Duration    time.Duration `json:"duration"`
}

// ProcessorStats are cumulative lifetime totals plus the last run snapshot.
type ProcessorStats struct {
	TotalRuns        int64        `json:"total_runs"`
	TotalProcessed   int64        `json:"total_processed"`
	TotalActivated   int64        `json:"total_activated"`
	TotalRejected    int64        `json:"total_rejected"`
	TotalKeptPending int64        `json:"total_kept_pending"`
	TotalErrors      int64        `json:"total_errors"`
	LastRunAt        *time.Time   `json:"last_run_at,omitempty"`
	LastRun          *BatchResult `json:"last_run,omitempty"`
}

// HealthReport is the processor's operational snapshot.
type HealthReport struct {
	StatusCounts        map[models.ReferralStatus]int64 `json:"status_counts"`
	DueAndQualifying    int                             `json:"due_and_qualifying"`
	AuditEntriesLast24h int64                           `json:"audit_entries_last_24h"`
	Stats               ProcessorStats                  `json:"stats"`
}

// qualification is the four-threshold check result for one record.
type qualification struct {
	Metrics QualificationMetrics

	AgePassed      bool
	PlaytimePassed bool
	LevelPassed    bool
	LoginPassed    bool

	MinAccountAgeDays int
	MinPlaytimeHours  float64
	MinCharacterLevel int
	MinLoginDays      int
}

// Qualified requires all four signals conjunctively — no partial credit.
func (q *qualification) Qualified() bool {
	return q.AgePassed && q.PlaytimePassed && q.LevelPassed && q.LoginPassed
}

// thresholds is the settings snapshot a batch runs against.
type thresholds struct {
	MinAccountAgeDays int
	MinPlaytimeHours  float64
	MinCharacterLevel int
	MinLoginDays      int
	GracePeriodDays   int
}

// DelayedRewardProcessor drives PENDING referrals through the state machine.
// Records are processed strictly sequentially; the run guard ensures at most
// one batch per process instance.
type DelayedRewardProcessor struct {
	Referrals ReferralStore
	Audits    AuditStore
	Settings  *SettingsService
	Metrics   MetricsProvider
	Disburser RewardDisburser
	Guard     RunGuard

	mu    sync.Mutex
	stats ProcessorStats
}

func NewDelayedRewardProcessor(referrals ReferralStore, audits AuditStore, settings *SettingsService, metrics MetricsProvider, disburser RewardDisburser, guard RunGuard) *DelayedRewardProcessor {
	return &DelayedRewardProcessor{
		Referrals: referrals,
		Audits:    audits,
		Settings:  settings,
		Metrics:   metrics,
		Disburser: disburser,
		Guard:     guard,
	}
}

// ProcessDueReferrals runs one batch. A run already in progress makes this a
// no-op (nil result). Context cancellation stops the batch between records;
// each record's transition is committed individually.
func (p *DelayedRewardProcessor) ProcessDueReferrals(ctx context.Context) (*BatchResult, error) {
	if !p.Guard.TryAcquire() {
		log.Println("⏭️ Delayed reward run already in progress, skipping trigger")
		return nil, nil
	}
	defer p.Guard.Release()

	enabled, err := p.Settings.GetBool(KeyDelayedRewardsEnabled)
	if err != nil {
		return nil, fmt.Errorf("reading delayed rewards toggle: %w", err)
	}
	if !enabled {
		log.Println("⏸️ Delayed rewards disabled, skipping run")
		return &BatchResult{}, nil
	}

	batchSize, err := p.Settings.GetInt(KeyDelayedRewardsBatchSize)
	if err != nil {
		return nil, fmt.Errorf("reading batch size: %w", err)
	}
	th, err := p.loadThresholds()
	if err != nil {
		return nil, fmt.Errorf("reading thresholds: %w", err)
	}

	start := time.Now()
	due, err := p.Referrals.DuePending(batchSize, start)
	if err != nil {
		return nil, fmt.Errorf("selecting due referrals: %w", err)
	}

	result := &BatchResult{}
	for i := range due {
		select {
		case <-ctx.Done():
			log.Printf("⏹️ Delayed reward run interrupted after %d of %d records", result.Processed, len(due))
			result.Duration = time.Since(start)
			p.recordRun(result)
			return result, ctx.Err()
		default:
		}

		rec := due[i]
		result.Processed++
		outcome, perr := p.processRecord(&rec, th)
		if perr != nil {
			p.handleRecordError(&rec, perr)
			result.Errors++
			continue
		}
		switch outcome {
		case models.ReferralStatusActive:
			result.Activated++
		case models.ReferralStatusRejected:
			result.Rejected++
		default:
			result.KeptPending++
		}
	}

	result.Duration = time.Since(start)
	p.recordRun(result)
	log.Printf("✅ Delayed reward run: %d processed, %d activated, %d rejected, %d kept pending, %d errors in %s",
		result.Processed, result.Activated, result.Rejected, result.KeptPending, result.Errors, result.Duration)
	return result, nil
}

func (p *DelayedRewardProcessor) loadThresholds() (*thresholds, error) {
	minAge, err := p.Settings.GetInt(KeyMinAccountAgeDays)
	if err != nil {
		return nil, err
	}
	minPlay, err := p.Settings.GetFloat(KeyMinPlaytimeHours)
	if err != nil {
		return nil, err
	}
	minLevel, err := p.Settings.GetInt(KeyMinCharacterLevel)
	if err != nil {
		return nil, err
	}
	minLogin, err := p.Settings.GetInt(KeyMinLoginDays)
	if err != nil {
		return nil, err
	}
	grace, err := p.Settings.GetInt(KeyRewardGracePeriodDays)
	if err != nil {
		return nil, err
	}
	return &thresholds{
		MinAccountAgeDays: minAge,
		MinPlaytimeHours:  minPlay,
		MinCharacterLevel: minLevel,
		MinLoginDays:      minLogin,
		GracePeriodDays:   grace,
	}, nil
}

func (p *DelayedRewardProcessor) qualify(invitedID string, th *thresholds) (*qualification, error) {
	metrics, err := p.Metrics.GetMetrics(invitedID)
	if err != nil {
		return nil, err
	}
	return &qualification{
		Metrics:           *metrics,
		AgePassed:         metrics.AccountAgeDays >= th.MinAccountAgeDays,
		PlaytimePassed:    metrics.TotalPlaytimeHours >= th.MinPlaytimeHours,
		LevelPassed:       metrics.HighestCharLevel >= th.MinCharacterLevel,
		LoginPassed:       metrics.DaysSinceLastLogin <= th.MinLoginDays,
		MinAccountAgeDays: th.MinAccountAgeDays,
		MinPlaytimeHours:  th.MinPlaytimeHours,
		MinCharacterLevel: th.MinCharacterLevel,
		MinLoginDays:      th.MinLoginDays,
	}, nil
}

// processRecord makes the per-record decision and commits it. The returned
// status is the record's status after the decision (pending = rescheduled).
func (p *DelayedRewardProcessor) processRecord(rec *models.ReferralRecord, th *thresholds) (models.ReferralStatus, error) {
	q, err := p.qualify(rec.InvitedID, th)
	if err != nil {
		return rec.Status, err
	}

	switch {
	case q.Qualified():
		if err := p.activate(rec, q, false); err != nil {
			return rec.Status, err
		}
		return models.ReferralStatusActive, nil
	case q.Metrics.AccountAgeDays > th.GracePeriodDays:
		if err := p.reject(rec, q); err != nil {
			return rec.Status, err
		}
		return models.ReferralStatusRejected, nil
	default:
		if err := p.reschedule(rec); err != nil {
			return rec.Status, err
		}
		return models.ReferralStatusPending, nil
	}
}

func (p *DelayedRewardProcessor) activate(rec *models.ReferralRecord, q *qualification, forced bool) error {
	now := time.Now()
	prior := rec.Status

	rec.Status = models.ReferralStatusActive
	rec.RequiresValidation = false
	rec.PointsGiven = rec.RewardAmount
	rec.RewardGivenAt = &now
	rec.LastProcessedAt = &now
	rec.NextProcessAt = nil
	rec.ProcessAttempts++
	if forced {
		rec.ValidationNotes = appendNote(rec.ValidationNotes, "manually activated")
	}
	if err := p.Referrals.Save(rec); err != nil {
		return fmt.Errorf("activating record %s: %w", rec.ID, err)
	}

	// Disbursement is a fire-and-forget boundary: the record is already
	// ACTIVE and audited, so a failed credit is recovered from the audit
	// trail, not by re-running the state machine.
	if err := p.Disburser.Disburse(rec.ReferrerID, rec.InvitedID, rec.RewardAmount, rec.RewardType); err != nil {
		log.Printf("⚠️ Disbursement failed for referral %s: %v", rec.ID, err)
	}

	reason := "QUALIFIED"
	if forced {
		reason = "MANUAL_OVERRIDE"
	}
	p.audit(rec, prior, reason, true, q)
	log.Printf("✅ Activated referral %s (invited %s, %d %s)", rec.ID, rec.InvitedID, rec.RewardAmount, rec.RewardType)
	return nil
}

func (p *DelayedRewardProcessor) reject(rec *models.ReferralRecord, q *qualification) error {
	now := time.Now()
	prior := rec.Status
	reason := ReasonGracePeriodExceeded

	rec.Status = models.ReferralStatusRejected
	rec.RequiresValidation = false
	rec.CheatReason = &reason
	rec.LastProcessedAt = &now
	rec.NextProcessAt = nil
	rec.ProcessAttempts++
	if err := p.Referrals.Save(rec); err != nil {
		return fmt.Errorf("rejecting record %s: %w", rec.ID, err)
	}

	p.audit(rec, prior, reason, false, q)
	log.Printf("❌ Rejected referral %s (invited %s): grace period exceeded", rec.ID, rec.InvitedID)
	return nil
}

// reschedule keeps an in-grace record pending for another day. This branch
// deliberately writes no audit entry — only activate/reject are audited.
func (p *DelayedRewardProcessor) reschedule(rec *models.ReferralRecord) error {
	now := time.Now()
	next := now.Add(rescheduleDelay)

	rec.NextProcessAt = &next
	rec.LastProcessedAt = &now
	rec.ProcessAttempts++
	if err := p.Referrals.Save(rec); err != nil {
		return fmt.Errorf("rescheduling record %s: %w", rec.ID, err)
	}
	return nil
}

// handleRecordError isolates one record's failure from the rest of the batch.
func (p *DelayedRewardProcessor) handleRecordError(rec *models.ReferralRecord, cause error) {
	log.Printf("❌ Error processing referral %s: %v", rec.ID, cause)
	now := time.Now()
	next := now.Add(errorRetryDelay)

	rec.ProcessAttempts++
	rec.NextProcessAt = &next
	rec.LastProcessedAt = &now
	rec.ValidationNotes = appendNote(rec.ValidationNotes, cause.Error())
	if err := p.Referrals.Save(rec); err != nil {
		log.Printf("❌ Failed to persist error state for referral %s: %v", rec.ID, err)
	}
}

func (p *DelayedRewardProcessor) audit(rec *models.ReferralRecord, prior models.ReferralStatus, reason string, rewardGiven bool, q *qualification) {
	entry := &models.RewardAuditLog{
		ReferralID:  rec.ID,
		PriorStatus: prior,
		NewStatus:   rec.Status,
		ReasonCode:  reason,
		RewardGiven: rewardGiven,
		CreatedAt:   time.Now(),
	}
	if q != nil {
		entry.AgePassed = q.AgePassed
		entry.PlaytimePassed = q.PlaytimePassed
		entry.LevelPassed = q.LevelPassed
		entry.LoginPassed = q.LoginPassed
		entry.AccountAgeDays = q.Metrics.AccountAgeDays
		entry.TotalPlaytimeHours = q.Metrics.TotalPlaytimeHours
		entry.HighestCharLevel = q.Metrics.HighestCharLevel
		entry.DaysSinceLastLogin = q.Metrics.DaysSinceLastLogin
		entry.MinAccountAgeDays = q.MinAccountAgeDays
		entry.MinPlaytimeHours = q.MinPlaytimeHours
		entry.MinCharacterLevel = q.MinCharacterLevel
		entry.MinLoginDays = q.MinLoginDays
	}
	if err := p.Audits.AppendRewardAudit(entry); err != nil {
		log.Printf("⚠️ Failed to write reward audit for referral %s: %v", rec.ID, err)
	}
}

func (p *DelayedRewardProcessor) recordRun(result *BatchResult) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalRuns++
	p.stats.TotalProcessed += int64(result.Processed)
	p.stats.TotalActivated += int64(result.Activated)
	p.stats.TotalRejected += int64(result.Rejected)
	p.stats.TotalKeptPending += int64(result.KeptPending)
	p.stats.TotalErrors += int64(result.Errors)
	p.stats.LastRunAt = &now
	snapshot := *result
	p.stats.LastRun = &snapshot
}

// Stats returns a copy of the cumulative run statistics.
func (p *DelayedRewardProcessor) Stats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ProcessSingle is the administrative override for one PENDING record. With
// force set, activation bypasses the four-threshold check entirely.
func (p *DelayedRewardProcessor) ProcessSingle(id string, force bool) (*models.ReferralRecord, error) {
	rec, err := p.Referrals.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("loading referral %s: %w", id, err)
	}
	if rec.Status != models.ReferralStatusPending {
		return nil, ErrNotPending
	}

	th, err := p.loadThresholds()
	if err != nil {
		return nil, fmt.Errorf("reading thresholds: %w", err)
	}

	if force {
		// Best-effort snapshot for the audit entry; a metrics failure must
		// not block a forced activation.
		q, qerr := p.qualify(rec.InvitedID, th)
		if qerr != nil {
			log.Printf("⚠️ Forced activation of %s without metrics snapshot: %v", id, qerr)
			q = nil
		}
		if err := p.activate(rec, q, true); err != nil {
			return nil, err
		}
		return rec, nil
	}

	if _, err := p.processRecord(rec, th); err != nil {
		p.handleRecordError(rec, err)
		return rec, err
	}
	return rec, nil
}

// Health reports the status histogram, currently due-and-qualifying count,
// audit volume over the last 24h, and cumulative run stats.
func (p *DelayedRewardProcessor) Health() (*HealthReport, error) {
	counts, err := p.Referrals.CountByStatus()
	if err != nil {
		return nil, fmt.Errorf("counting statuses: %w", err)
	}

	audits, err := p.Audits.CountRewardAuditsSince(time.Now().Add(-24 * time.Hour))
	if err != nil {
		return nil, fmt.Errorf("counting recent audits: %w", err)
	}

	report := &HealthReport{
		StatusCounts:        counts,
		AuditEntriesLast24h: audits,
		Stats:               p.Stats(),
	}

	batchSize, err := p.Settings.GetInt(KeyDelayedRewardsBatchSize)
	if err != nil {
		return nil, err
	}
	th, err := p.loadThresholds()
	if err != nil {
		return nil, err
	}
	due, err := p.Referrals.DuePending(batchSize, time.Now())
	if err != nil {
		return nil, fmt.Errorf("selecting due referrals: %w", err)
	}
	for i := range due {
		q, qerr := p.qualify(due[i].InvitedID, th)
		if qerr != nil {
			continue
		}
		if q.Qualified() {
			report.DueAndQualifying++
		}
	}
	return report, nil
}

func appendNote(notes, note string) string {
	stamped := fmt.Sprintf("[%s] %s", time.Now().Format(time.RFC3339), note)
	if strings.TrimSpace(notes) == "" {
		return stamped
	}
	return notes + "\n" + stamped
}

// services/audit_archiver.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"referral-reward-system/utils"
)

// archiveBatchSize bounds how many log rows one export pass moves.
const archiveBatchSize = 1000

// Uploader pushes one archive object; the production implementation is R2.
type Uploader func(ctx context.Context, key, contentType string, data []byte) error

// AuditArchiver exports anti-cheat log rows past their retention window to
// object storage as JSON lines, then deletes the exported rows. Referral
// state is never touched; a failed export just leaves the rows for the next
// daily pass.
type AuditArchiver struct {
	Audits   AuditStore
	Settings *SettingsService
	Upload   Uploader
}

func NewAuditArchiver(audits AuditStore, settings *SettingsService) *AuditArchiver {
	var upload Uploader
	if utils.R2Configured() {
		upload = utils.UploadBytesToR2
	}
	return &AuditArchiver{Audits: audits, Settings: settings, Upload: upload}
}

func (a *AuditArchiver) ArchiveOldAntiCheatLogs(ctx context.Context) error {
	if a.Upload == nil {
		log.Println("⏸️ Audit archival skipped: object storage not configured")
		return nil
	}

	retentionDays, err := a.Settings.GetInt(KeyAntiCheatLogRetentionDays)
	if err != nil {
		return fmt.Errorf("reading retention setting: %w", err)
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	total := 0
	for {
		logs, err := a.Audits.AntiCheatLogsBefore(cutoff, archiveBatchSize)
		if err != nil {
			return fmt.Errorf("selecting expired anti-cheat logs: %w", err)
		}
		if len(logs) == 0 {
			break
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		ids := make([]string, 0, len(logs))
		for i := range logs {
			if err := enc.Encode(&logs[i]); err != nil {
				return fmt.Errorf("encoding log entry %s: %w", logs[i].ID, err)
			}
			ids = append(ids, logs[i].ID)
		}

		key := fmt.Sprintf("anticheat-logs/%s-%d.jsonl", time.Now().UTC().Format("2006-01-02"), time.Now().UnixNano())
		if err := a.Upload(ctx, key, "application/x-ndjson", buf.Bytes()); err != nil {
			return fmt.Errorf("uploading archive %s: %w", key, err)
		}
		// Delete only after a confirmed upload.
		if err := a.Audits.DeleteAntiCheatLogs(ids); err != nil {
			return fmt.Errorf("deleting archived logs: %w", err)
		}
		total += len(logs)

		if len(logs) < archiveBatchSize {
			break
		}
	}

	if total > 0 {
		log.Printf("✅ Archived %d anti-cheat log entries older than %d days", total, retentionDays)
	}
	return nil
}

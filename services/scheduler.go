// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// coldStartDelay is how soon after process start the first batch fires, so a
// restart does not wait a full interval.
const coldStartDelay = 30 * time.Second

// StartRewardScheduler wires the periodic jobs: the delayed-reward batch
// every cronjob_interval_hours (first run shortly after start), and the daily
// anti-cheat log archival. The returned scheduler is already started.
func StartRewardScheduler(ctx context.Context, processor *DelayedRewardProcessor, archiver *AuditArchiver, settings *SettingsService) (gocron.Scheduler, error) {
	intervalHours, err := settings.GetInt(KeyCronIntervalHours)
	if err != nil {
		log.Printf("⚠️ Could not read %s, using default: %v", KeyCronIntervalHours, err)
		intervalHours = 6
	}
	if intervalHours < 1 {
		intervalHours = 1
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(time.Duration(intervalHours)*time.Hour),
		gocron.NewTask(func() {
			if _, err := processor.ProcessDueReferrals(ctx); err != nil {
				log.Printf("❌ [Scheduler] Delayed reward run failed: %v", err)
			}
		}),
		gocron.WithStartAt(gocron.WithStartDateTime(time.Now().Add(coldStartDelay))),
	)
	if err != nil {
		return nil, err
	}

	if archiver != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(24*time.Hour),
			gocron.NewTask(func() {
				if err := archiver.ArchiveOldAntiCheatLogs(ctx); err != nil {
					log.Printf("❌ [Scheduler] Anti-cheat log archival failed: %v", err)
				}
			}),
			gocron.WithStartAt(gocron.WithStartDateTime(time.Now().Add(5*time.Minute))),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	log.Printf("✅ Reward scheduler started (batch every %dh, first run in %s)", intervalHours, coldStartDelay)
	return sched, nil
}

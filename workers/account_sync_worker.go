// workers/account_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"referral-reward-system/models"
	"referral-reward-system/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountStatsFromProfile matches the JSON of the profile service's public
// stats endpoint.
type AccountStatsFromProfile struct {
	ExternalID         string     `json:"external_id"`
	AccountCreatedAt   time.Time  `json:"account_created_at"`
	TotalPlaytimeHours float64    `json:"total_playtime_hours"`
	HighestCharLevel   int        `json:"highest_char_level"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type getAccountStatsResponse struct {
	Accounts []AccountStatsFromProfile `json:"accounts"`
}

// AccountStatsSyncWorker mirrors account-quality metrics from the profile
// service into the local account_stats table, which the delayed reward
// processor reads. Incremental: each pass asks for changes since the newest
// locally synced row.
type AccountStatsSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewAccountStatsSyncWorker(db *gorm.DB, profileServiceBaseURL, endpointPath, serviceToken string) *AccountStatsSyncWorker {
	return &AccountStatsSyncWorker{
		db:           db,
		interval:     5 * time.Minute,
		baseURL:      profileServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
	}
}

func (w *AccountStatsSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Account Stats Sync Worker (profile-service → account_stats)…")
	go w.run(ctx)
}

func (w *AccountStatsSyncWorker) run(ctx context.Context) {
	// Backfill from the beginning of time on first start.
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ Initial account stats sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncBatch(ctx, w.getLastSyncTime()); err != nil {
				log.Printf("❌ Account stats sync failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Account Stats Sync Worker stopped")
			return
		}
	}
}

// getLastSyncTime finds the newest SyncedAt in the local mirror; zero means a
// full backfill.
func (w *AccountStatsSyncWorker) getLastSyncTime() time.Time {
	var lastTime time.Time
	err := w.db.Model(&models.AccountStats{}).
		Select("COALESCE(MAX(synced_at), '0001-01-01'::timestamptz)").
		Scan(&lastTime).Error
	if err != nil {
		log.Printf("⚠️ Could not read last sync time, doing a full sync: %v", err)
		return time.Time{}
	}
	return lastTime
}

func (w *AccountStatsSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	u, err := url.Parse(w.baseURL + w.endpointPath)
	if err != nil {
		return fmt.Errorf("parsing profile service URL: %w", err)
	}
	q := u.Query()
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("profile service returned %d: %s", resp.StatusCode, string(body))
	}

	var payload getAccountStatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding profile service response: %w", err)
	}
	if len(payload.Accounts) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]models.AccountStats, 0, len(payload.Accounts))
	for _, acc := range payload.Accounts {
		if acc.ExternalID == "" {
			continue
		}
		rows = append(rows, models.AccountStats{
			ExternalUserID:     acc.ExternalID,
			AccountCreatedAt:   acc.AccountCreatedAt,
			TotalPlaytimeHours: acc.TotalPlaytimeHours,
			HighestCharLevel:   acc.HighestCharLevel,
			LastLoginAt:        acc.LastLoginAt,
			SyncedAt:           now,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	err = w.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_created_at", "total_playtime_hours", "highest_char_level", "last_login_at", "synced_at", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upserting account stats: %w", err)
	}

	log.Printf("📥 Synced %d account stat row(s) from profile service", len(rows))
	return nil
}

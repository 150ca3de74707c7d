package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"referral-reward-system/handlers"
	"referral-reward-system/middleware"
	"referral-reward-system/models"
	"referral-reward-system/services"
	"referral-reward-system/utils"
	"referral-reward-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New()

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, X-Service-Token, X-User-ID, X-User-Roles, X-User-Name",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.ReferralRecord{},
		&models.ReferralCode{},
		&models.AntiCheatLog{},
		&models.RewardAuditLog{},
		&models.AccountStats{},
		&models.Setting{},
		&models.KnownVPNAddress{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// Object storage is only needed for audit archival; the service runs
	// without it.
	r2Enabled, err := utils.InitR2()
	if err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}
	if !r2Enabled {
		log.Println("⚠️  R2 not configured — anti-cheat log archival disabled")
	}

	settings := services.NewSettingsService(db)
	referralStore := services.NewGormReferralStore(db)
	auditStore := services.NewGormAuditStore(db)
	codeStore := services.NewGormCodeStore(db)
	networkStore := services.NewGormNetworkStore(db)

	antiCheat := services.NewAntiCheatService(referralStore, auditStore, codeStore, networkStore, settings)
	referralService := services.NewReferralService(referralStore, codeStore, antiCheat, settings)
	processor := services.NewDelayedRewardProcessor(
		referralStore,
		auditStore,
		settings,
		services.NewAccountStatsProvider(db),
		services.StubDisburser{},
		services.NewProcessRunGuard(),
	)
	archiver := services.NewAuditArchiver(auditStore, settings)

	// --- Profile service connection for the account stats mirror ---
	profileServiceURL := os.Getenv("PROFILE_SERVICE_URL")
	if profileServiceURL == "" {
		log.Fatal("PROFILE_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("REFERRAL_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("REFERRAL_SERVICE_TOKEN environment variable not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	statsWorker := workers.NewAccountStatsSyncWorker(db, profileServiceURL, "/api/v1/public/accounts/stats", serviceToken)
	statsWorker.Start(ctx)

	sched, err := services.StartRewardScheduler(ctx, processor, archiver, settings)
	if err != nil {
		log.Fatal("failed to start reward scheduler:", err)
	}
	defer func() { _ = sched.Shutdown() }()

	handlers.SetupReferralRoutes(app, referralService, processor)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Referral service running on http://localhost:5300")
	log.Println("✅ Account Stats Sync Worker running")
	log.Println("✅ Delayed reward scheduler running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = app.Shutdown()
}

package main

import (
	"context"
	"ctf_scoring/internal/api"
	"ctf_scoring/internal/app/service"
	"ctf_scoring/internal/app/worker"
	"ctf_scoring/internal/common/security"
	"ctf_scoring/internal/domain/repository"
	"ctf_scoring/internal/platform/cache"
	"ctf_scoring/internal/platform/config"
	"ctf_scoring/internal/platform/database"
	"ctf_scoring/internal/platform/metrics"
	"ctf_scoring/internal/platform/queue"
	"ctf_scoring/internal/platform/settings"
	"ctf_scoring/internal/scoring/flag"
	"ctf_scoring/internal/scoring/points"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	// 1. Load Configuration
	config.Load()
	cfg := config.AppConfig
	fmt.Println("Configuration loaded.")

	// 2. Initialize JWT
	security.InitJWT()
	fmt.Println("JWT initialized.")

	// 3. Initialize Database
	database.Connect(cfg.DBConnStr)
	defer database.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(context.Background(), database.DB); err != nil {
			log.Fatalf("Database migration failed: %v", err)
		}
	}
	fmt.Println("Database connected.")

	// 4. Initialize Redis
	queue.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer queue.CloseRedis()
	fmt.Println("Redis connected.")

	// 5. Initialize Repositories
	stores := service.Stores{
		Tx:         repository.NewSQLTransactor(database.DB),
		Challenges: repository.NewPgChallengeRepository(database.DB),
		Accounts:   repository.NewPgAccountRepository(database.DB),
		Ledger:     repository.NewPgLedgerRepository(database.DB),
		Hints:      repository.NewPgHintRepository(database.DB),
	}

	// 6. Scoring registries, settings and side-effect sinks
	flags := flag.NewRegistry()
	pointsRegistry := points.NewRegistry()
	settingsProvider := settings.NewRedis(queue.RDB, cfg.SettingsHashKey, settings.FromConfig(cfg.Competition),
		time.Duration(cfg.SettingsCacheTTLSeconds)*time.Second)
	listings := cache.NewChallengeViews(queue.RDB, time.Duration(cfg.ChallengeCacheTTLSeconds)*time.Second)
	events := queue.NewEventPublisher(queue.RDB, cfg.EventsChannel)
	repriceQueue := queue.NewRepriceQueue(queue.RDB, cfg.RepriceQueueName, cfg.RepriceLockKey)
	scoringMetrics := metrics.NewScoring(nil)

	// 7. Initialize Services
	submissionService := service.NewSubmissionService(stores, flags, pointsRegistry, settingsProvider, scoringMetrics,
		service.InvalidateListingHook(listings),
		service.PublishEventsHook(events),
		service.ScheduleRepriceHook(repriceQueue),
	)
	recalculationService := service.NewRecalculationService(stores, pointsRegistry, scoringMetrics)
	challengeService := service.NewChallengeService(stores, flags, pointsRegistry, settingsProvider, listings)
	leaderboardService := service.NewLeaderboardService(stores.Accounts)

	// 8. Initialize Reprice Worker (as a goroutine, unless cmd/worker runs it)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.RunEmbeddedWorker {
		repriceWorker := worker.NewRepriceWorker(repriceQueue, recalculationService,
			time.Duration(cfg.RepriceLockTTLSeconds)*time.Second)
		go repriceWorker.Start(workerCtx)
		fmt.Println("Reprice worker started.")
	}

	// 9. Initialize Router & HTTP Server
	router := api.NewRouter(security.TokenAuth, api.Services{
		Challenges:    challengeService,
		Submissions:   submissionService,
		Recalculation: recalculationService,
		Leaderboard:   leaderboardService,
	}, scoringMetrics)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
		}
	}()
	log.Println("Server started successfully.")

	<-stop

	log.Println("Shutting down server...")
	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server and worker stopped gracefully.")
}

package main

import (
	"context"
	"ctf_scoring/internal/app/service"
	"ctf_scoring/internal/app/worker"
	"ctf_scoring/internal/domain/repository"
	"ctf_scoring/internal/platform/config"
	"ctf_scoring/internal/platform/database"
	"ctf_scoring/internal/platform/metrics"
	"ctf_scoring/internal/platform/queue"
	"ctf_scoring/internal/scoring/points"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Standalone re-pricing process. Run it with RUN_EMBEDDED_WORKER=false on the
// API servers so only dedicated workers drain the queue.
func main() {
	log.Println("Reprice worker process starting...")

	config.Load()
	cfg := config.AppConfig

	database.Connect(cfg.DBConnStr)
	defer database.Close()

	queue.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer queue.CloseRedis()

	stores := service.Stores{
		Tx:         repository.NewSQLTransactor(database.DB),
		Challenges: repository.NewPgChallengeRepository(database.DB),
		Accounts:   repository.NewPgAccountRepository(database.DB),
		Ledger:     repository.NewPgLedgerRepository(database.DB),
		Hints:      repository.NewPgHintRepository(database.DB),
	}
	recalculationService := service.NewRecalculationService(stores, points.NewRegistry(), metrics.NewScoring(nil))
	repriceQueue := queue.NewRepriceQueue(queue.RDB, cfg.RepriceQueueName, cfg.RepriceLockKey)
	repriceWorker := worker.NewRepriceWorker(repriceQueue, recalculationService,
		time.Duration(cfg.RepriceLockTTLSeconds)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	wg.Add(1)
	go func() {
		defer wg.Done()
		repriceWorker.Start(ctx)
	}()

	<-sigs
	log.Println("Shutdown signal received.")
	cancel()

	wg.Wait()
	log.Println("Reprice worker exited cleanly.")
}

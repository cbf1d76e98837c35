package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker drains submission audit events from redis into submission_audit.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	var (
		db  *store.DB
		err error
	)
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err = store.NewDB(cfg.DatabaseURL)
	case "sqlite":
		db, err = store.NewSQLite(cfg.SQLitePath)
	default:
		log.Fatalf("worker needs a sql ledger, DATABASE_DRIVER=%q", cfg.DatabaseDriver)
	}
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rdb := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable, will keep retrying", cfg.RedisAddr)
	}

	repo := attendance.NewRepository(db)
	q := queue.NewRedisQueue(rdb.Client, queue.AuditKey)

	log.Println("worker started, waiting for audit events...")
	n, err := queue.DrainAudit(ctx, q, repo)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
	log.Printf("worker stopped after %d events", n)
}

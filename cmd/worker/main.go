package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/executor"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/platform"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/quota"
	repo "github.com/talhaakhtargithub/insta-distribution-sub000/internal/repository/postgres"
)

func main() {
	log.Println("Starting Distribution Worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("Failed to ping redis: %v", err)
	}
	log.Println("Connected to redis")

	jobs := repo.NewJobRepo(db)
	tracker := quota.NewTracker(rdb, cfg.Quota)
	publisher := platform.NewPublishClient(cfg.Platform)
	directory := platform.NewDirectoryClient(cfg.Platform)
	halt := executor.NewHaltFlag(rdb)
	locks := executor.NewAccountLocks(rdb, db, cfg.Executor.AccountLockTTL())

	exec := executor.New(cfg.Executor, jobs, tracker, publisher, directory, halt, locks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic sweep returns jobs abandoned by crashed workers to pending.
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", func() {
		if _, err := exec.RecoverStuck(ctx); err != nil {
			log.Printf("Stuck job recovery failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule recovery sweep: %v", err)
	}
	c.Start()

	exec.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received %s, draining workers...", sig)

	cronCtx := c.Stop()
	<-cronCtx.Done()
	exec.Stop()
	log.Println("Worker stopped")
}

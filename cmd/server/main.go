package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/api"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/executor"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/orchestrator"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/platform"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/quota"
	repo "github.com/talhaakhtargithub/insta-distribution-sub000/internal/repository/postgres"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/risk"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/schedule"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/selection"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("Starting Distribution API Server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	if err := checkPortAvailable(cfg.Server.GetHost(), cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
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

	directory := platform.NewDirectoryClient(cfg.Platform)
	variation := platform.NewVariationClient(cfg.Platform)

	tracker := quota.NewTracker(rdb, cfg.Quota)
	assessor := risk.NewAssessor(cfg.Risk)
	selector := selection.NewSelector(cfg.Selection, tracker)
	scheduler := schedule.NewScheduler(cfg.Schedule)

	runs := repo.NewRunRepo(db)
	halt := executor.NewHaltFlag(rdb)

	svc := orchestrator.NewService(runs, directory, variation, halt, assessor, selector, scheduler)

	server := api.NewServer(cfg.Server, api.NewHandlers(svc, directory, tracker))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-quit:
		log.Printf("Received %s, shutting down...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

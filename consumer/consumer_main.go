package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ducnh/coursereel/config"
	"github.com/ducnh/coursereel/consumer/worker"
	infraPkg "github.com/ducnh/coursereel/infra"
	"github.com/ducnh/coursereel/repository"
)

func main() {
	err := godotenv.Load("../staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	repo := repository.InitRepository(infra)

	// Initialize context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start Pipeline Consumer
	pipelineConsumer := worker.NewPipelineConsumer(infra.RabbitMQ.Channel, cfg, infra, repo)
	if err := pipelineConsumer.Start(ctx); err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to start Pipeline consumer: %v", err)
		log.Fatalf("Failed to start Pipeline consumer: %v", err)
	}

	// Start Watchdog
	watchdog := worker.NewWatchdog(cfg, infra, repo)
	if err := watchdog.Start(ctx); err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to start Watchdog: %v", err)
		log.Fatalf("Failed to start Watchdog: %v", err)
	}

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	infra.Logger.InfoWithContextf(ctx, "Shutting down consumer...")
	cancel() // Cancel context to stop consumers

	infra.Logger.InfoWithContextf(ctx, "Consumer exited properly")
}

// Command worker runs the asynq task runtime that processes, monitors, and
// repairs materialization chunks, the Go counterpart of the Celery workers
// the source system starts against its process/workflow/monitor queues.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/segmat/segmat/internal/checkpoint"
	"github.com/segmat/segmat/internal/queue"
	"github.com/segmat/segmat/internal/repository"
	"github.com/segmat/segmat/internal/schema"
	"github.com/segmat/segmat/internal/storage"
	"github.com/segmat/segmat/internal/workflow"
	"github.com/segmat/segmat/pkg/config"
	"github.com/segmat/segmat/pkg/telemetry"
	"github.com/segmat/segmat/pkg/utils"
)

var (
	configPath = flag.String("c", "", "path to configuration file")
	version    = flag.Bool("v", false, "print version and exit")
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("segmat-worker version %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	logger := utils.NewDefaultLogger(utils.LevelInfo, os.Stdout)
	utils.SetGlobalLogger(logger)

	logger.Info("starting segmat worker...")
	logger.Info("version: %s, commit: %s, built: %s", Version, GitCommit, BuildTime)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration: %v", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background())
	if err != nil {
		logger.Warn("telemetry disabled: %v", err)
	} else {
		defer shutdownTelemetry(context.Background())
	}

	if err := cfg.EnsureDataDir(); err != nil {
		logger.Error("failed to create data directory: %v", err)
		os.Exit(1)
	}

	dbs := repository.NewVolumeDBCache(cfg.Database)
	defer dbs.CloseAll()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	checkpoints := checkpoint.New(redisClient)

	queueClient := queue.NewClient(cfg.Queue.RedisAddr)
	defer queueClient.Close()

	inspector := queue.NewInspector(cfg.Queue.RedisAddr)
	schemas := schema.NewFactory()

	reportStore, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		logger.Warn("completion/repair reports disabled: %v", err)
		reportStore = nil
	}

	mux := workflow.NewMux(dbs, checkpoints, inspector, queueClient, schemas, reportStore, logger)
	server := queue.NewServer(cfg.Queue.RedisAddr, cfg.Queue.Concurrency)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := server.Start(mux); err != nil {
		logger.Error("failed to start task server: %v", err)
		os.Exit(1)
	}
	logger.Info("worker started, concurrency=%d, waiting for tasks...", cfg.Queue.Concurrency)

	select {
	case sig := <-sigChan:
		logger.Info("received signal %v, initiating graceful shutdown...", sig)
		cancel()
	case <-ctx.Done():
	}

	server.Shutdown()
	logger.Info("worker stopped")
}

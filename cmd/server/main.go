package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"attendance-sync-service/internal/api"
	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/offline"
	"attendance-sync-service/internal/portal"
	"attendance-sync-service/internal/store"
	"attendance-sync-service/internal/sync"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	configPath := os.Getenv("ATTENDANCE_SYNC_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load Config
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting attendance sync service",
		zap.String("portal", cfg.Portal.BaseURL),
		zap.String("storage", cfg.StateStorage.Type),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init State Store
	stateStore, err := store.New(ctx, cfg.StateStorage)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer stateStore.Close()

	local := offline.New(stateStore, offline.WithRetentionDays(cfg.Sync.RetentionDays))
	client := portal.NewClient(cfg.Portal)

	// Init Sync Manager
	monitor := sync.NewMonitor(client, cfg.Sync.GetProbeInterval())
	syncManager := sync.NewManager(local, client, sync.WithConnectivity(monitor))
	syncManager.SetAuth(cfg.Portal.CSRFToken)

	monitor.Start()
	go syncManager.Watch(ctx, monitor.Events())

	if cfg.Sync.WorkerID != "" {
		syncManager.SetWorker(cfg.Sync.WorkerID)
		go syncManager.Load(ctx)
	}

	scheduler := sync.NewScheduler(cfg.Scheduler, syncManager)
	if err := scheduler.Start(); err != nil {
		logger.Log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Init API
	handler := api.NewHandler(syncManager, cfg.Server)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	scheduler.Stop()
	monitor.Stop()
	handler.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
	cancel()
}

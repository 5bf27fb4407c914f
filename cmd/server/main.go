package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenSignageCore/internal/auth"
	"github.com/KevinKickass/OpenSignageCore/internal/config"
	"github.com/KevinKickass/OpenSignageCore/internal/system"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the YAML config file")
	hashPassword := pflag.String("hash-password", "", "print the Argon2id hash of a password for the auth section and exit")
	pflag.Parse()

	if *hashPassword != "" {
		hash, err := auth.NewPasswordHasher().HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	// .env is optional; the JWT secret usually comes from there in development.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.String("path", *configPath), zap.Error(err))
	}

	logger.Info("Config loaded successfully",
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("mqtt", cfg.Events.MQTT.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lifecycle, err := system.NewLifecycleManager(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize system", zap.Error(err))
	}

	if err := lifecycle.Start(); err != nil {
		logger.Error("Failed to start system", zap.Error(err))
		shutdown(lifecycle, cfg, logger)
		os.Exit(1)
	}

	logger.Info("OpenSignageCore started successfully")

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
		logger.Info("Shutdown requested via API")
	}

	if err := shutdown(lifecycle, cfg, logger); err != nil {
		os.Exit(1)
	}

	logger.Info("OpenSignageCore stopped successfully")
}

func shutdown(lifecycle *system.LifecycleManager, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

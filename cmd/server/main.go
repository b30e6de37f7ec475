package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/storesync/storesync/internal/api"
	"github.com/storesync/storesync/internal/config"
	"github.com/storesync/storesync/internal/database"
	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/queue"
	"github.com/storesync/storesync/internal/services"
	"github.com/storesync/storesync/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := loadConfiguration(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	logger.Info().
		Int("port", cfg.HTTP.Port).
		Msg("Starting migration API server")

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	db, err := connectToDatabase(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}()

	rdb, err := connectToRedis(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to redis")
	}

	jobQueue := queue.NewRedisQueue(rdb, cfg.Queue.Key)
	defer func() {
		if err := jobQueue.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close job queue")
		}
	}()

	migrationService := services.NewMigrationService(db.DB(), jobQueue, logger)
	storeService := services.NewStoreService(db.DB(), cfg, logger)

	server, err := api.NewServer(cfg, db, migrationService, storeService, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create HTTP server")
	}

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.HTTP.Port); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serverErrChan:
		logger.Error().Err(err).Msg("HTTP server error")
	}

	logger.Info().Msg("Starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to gracefully shutdown HTTP server")
	}

	logger.Info().Msg("Shutdown complete")
}

// loadConfiguration loads configuration from file or environment
func loadConfiguration(configPath string) (*config.Config, error) {
	cfg := config.LoadConfigOrDefault(configPath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging configures the logger based on configuration
func setupLogging(cfg *config.Config) zerolog.Logger {
	logConfig := utils.DefaultConfig()
	if cfg.Server.Debug {
		logConfig = utils.DevelopmentConfig()
	}
	logConfig.Level = cfg.Server.LogLevel
	logConfig.LogFile = os.Getenv("LOG_FILE")
	utils.SetupGlobalLogger(logConfig)
	return utils.NewLogger(logConfig)
}

// connectToDatabase establishes the database connection and runs
// schema migrations
func connectToDatabase(cfg *config.Config, logger zerolog.Logger) (*database.Database, error) {
	logger.Info().Msg("Connecting to database")

	db := database.NewDatabase(cfg)
	if err := db.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err := db.Migrate(
		&models.Store{},
		&models.Migration{},
		&models.MigrationItem{},
		&models.MigrationProgress{},
		&models.MigrationLog{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	return db, nil
}

func connectToRedis(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

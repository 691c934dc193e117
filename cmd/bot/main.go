package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"darkhold/internal/config"
	"darkhold/internal/logging"
	"darkhold/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "darkhold",
	Short: "Marvel knowledge chat bot",
	Long: `Darkhold answers questions about the Marvel universe over Telegram.

Without a subcommand it runs the bot, same as "darkhold serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.StorageBackend {
	case storage.BackendFile:
		return storage.NewFileStore(cfg.StoragePath)
	case storage.BackendPebble:
		return storage.OpenPebble(cfg.StoragePath, logger)
	case storage.BackendMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

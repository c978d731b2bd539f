package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/app"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/config"
)

// configFileEnv names an optional JSON or YAML config file
const configFileEnv = config.EnvPrefix + "_CONFIG_FILE"

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// STEP 1: Load configuration with precedence (file > env > .env > defaults)
	if err := loadEnvFiles(".env"); err != nil {
		return err
	}
	cfg := config.LoadConfigWithPrecedence(os.Getenv(configFileEnv))

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	// STEP 4: Start application
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	// STEP 5: Wait for shutdown signal
	sig := <-signalCh
	log.Printf("Received signal %v, shutting down gracefully", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// loadEnvFiles merges .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func loadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		log.Printf("Loaded environment from %s", path)
	}
	return nil
}

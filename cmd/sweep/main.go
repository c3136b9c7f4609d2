// Command sweep runs garbage collection over every expired draft once and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/debemdeboas/forum-attachments/internal/app"
	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/debemdeboas/forum-attachments/internal/logger"
)

func main() {
	_ = godotenv.Load()

	defaultPath := os.Getenv(config.EnvConfigPath)
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	l := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	app.SetLoggers(l)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	stats, err := a.Sweeper.RunAll(ctx)
	if err != nil {
		l.Error().Err(err).Msg("Sweep failed")
		a.Close()
		os.Exit(1)
	}

	l.Info().
		Int("scanned", stats.Scanned).
		Int("purged", stats.Purged).
		Int("skipped_referenced", stats.SkippedReferenced).
		Int("failed", stats.Failed).
		Msg("Sweep finished")
}

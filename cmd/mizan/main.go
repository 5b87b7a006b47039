// Command mizan answers Islamic finance questions from ingested documents.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/mizan/internal/adapters/driven/ai"
	"github.com/custodia-labs/mizan/internal/adapters/driven/config/file"
	"github.com/custodia-labs/mizan/internal/adapters/driving/cli"
	"github.com/custodia-labs/mizan/internal/core/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	store, err := file.NewConfigStore("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: opening config: %v\n", err)
		return err
	}

	cli.SetVersion(version)
	cli.SetSettings(services.NewSettingsService(store))
	cli.SetProviderChecks(ai.ValidateEmbeddingConfig, ai.ValidateLLMConfig)
	cli.SetBootstrap(func(ctx context.Context) (*cli.Services, error) {
		cfg, err := services.LoadConfig(store)
		if err != nil {
			return nil, err
		}
		services.ApplyEnv(&cfg, os.Getenv)
		return build(ctx, cfg, os.Getenv)
	})

	return cli.Execute(ctx)
}

// cmd/migrate applies migrations/*.sql to DATABASE_URL and exits.
// Mirrors the teacher's rivermigrate bootstrap step in cmd/api/main.go,
// run as its own binary so cmd/scheduler never has to decide whether to
// migrate on every boot.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/inaiurai/mediatasks/internal/config"
	"github.com/inaiurai/mediatasks/internal/migrate"
	"github.com/inaiurai/mediatasks/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrate.Up(ctx, pool, cfg.MigrationsDir); err != nil {
		slog.Error("apply migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("migrations applied")
}

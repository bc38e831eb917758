package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/grimoire/internal/config"
	"github.com/pressly/goose/v3"
)

// migrationsDir is the path to the goose migration files, relative to the
// working directory the server is started from.
const migrationsDir = "migrations"

// slogGooseLogger adapts goose's logger interface to slog.
type slogGooseLogger struct{}

func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	slog.Error(fmt.Sprintf(format, v...), "component", "goose")
}

func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...), "component", "goose")
}

// runMigrations executes the given goose command against the configured
// database and returns when it completes.
func runMigrations(cfg *config.Config, command string) error {
	// A correlation ID on every migration log line lets the whole operation
	// be traced as one unit.
	migrationLogger := slog.Default().With(
		"correlation_id", uuid.New().String(),
		"component", "migrations",
		"command", command,
	)

	goose.SetLogger(&slogGooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			migrationLogger.Error("Failed to close migration database connection", "error", err)
		}
	}()

	start := time.Now()
	migrationLogger.Info("Starting migration operation")

	switch command {
	case "up":
		err = goose.Up(db, migrationsDir)
	case "down":
		err = goose.Down(db, migrationsDir)
	case "status":
		err = goose.Status(db, migrationsDir)
	case "version":
		err = goose.Version(db, migrationsDir)
	default:
		return fmt.Errorf("unknown migration command %q (expected up, down, status, or version)", command)
	}
	if err != nil {
		migrationLogger.Error("Migration operation failed",
			"error", err,
			"duration", time.Since(start).String())
		return fmt.Errorf("goose %s failed: %w", command, err)
	}

	migrationLogger.Info("Migration operation completed",
		"duration", time.Since(start).String())
	return nil
}

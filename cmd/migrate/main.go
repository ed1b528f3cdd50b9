package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"backoffice/internal/config"
	"backoffice/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Advisory lock key shared by all migrator instances.
const migrateLockKey = 4215907

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := config.NewLogger(cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		log.Fatalf("failed to acquire connection: %v", err)
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", migrateLockKey).Scan(&locked); err != nil {
		log.Fatalf("failed to query advisory lock: %v", err)
	}
	if !locked {
		log.Fatal("another migrator is currently running")
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		log.Fatalf("failed to create schema_migrations table: %v", err)
	}

	for _, filename := range discoverMigrations(log) {
		applyMigration(ctx, log, pool, filename)
	}
	log.Info("all migrations processed")
}

func discoverMigrations(log *logrus.Logger) []string {
	entries, err := os.ReadDir("migrations")
	if err != nil {
		log.Fatalf("failed to read migrations directory: %v", err)
	}

	var filenames []string
	versions := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := extractVersion(log, entry.Name())
		if versions[version] {
			log.Fatalf("duplicate migration version: %s", version)
		}
		versions[version] = true
		filenames = append(filenames, entry.Name())
	}
	sort.Strings(filenames)
	return filenames
}

func extractVersion(log *logrus.Logger, filename string) string {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) < 2 {
		log.Fatalf("invalid migration filename %s, expected NNN_description.sql", filename)
	}
	return parts[0]
}

func applyMigration(ctx context.Context, log *logrus.Logger, pool *pgxpool.Pool, filename string) {
	version := extractVersion(log, filename)
	path := filepath.Join("migrations", filename)

	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to read migration %s: %v", filename, err)
	}
	sum := sha256.Sum256(sqlBytes)
	checksum := hex.EncodeToString(sum[:])

	var existing string
	err = pool.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", version).Scan(&existing)
	switch {
	case err == nil:
		if existing != checksum {
			log.Fatalf("checksum mismatch for %s: recorded %s, file %s", filename, existing, checksum)
		}
		log.WithField("migration", filename).Info("already applied, skipping")
		return
	case errors.Is(err, pgx.ErrNoRows):
		// not applied yet
	default:
		log.Fatalf("failed to query schema_migrations for %s: %v", filename, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("failed to begin transaction for %s: %v", filename, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		log.Fatalf("failed to execute migration %s: %v", filename, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		version, filename, checksum); err != nil {
		log.Fatalf("failed to record migration %s: %v", filename, err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("failed to commit migration %s: %v", filename, err)
	}
	log.WithField("migration", filename).Info("applied")
}

// Package store wires the shared Postgres pool and applies the schema
// migrations backing accounts, transfers, ledger entries, sanctions, and the
// audit log.
package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every embedded *.sql file in lexicographic order. It is
// safe to call repeatedly: each migration is expected to be idempotent
// (CREATE TABLE IF NOT EXISTS, etc). Each applied file and the overall
// duration are logged at the same slog granularity as the rest of the
// startup path, so a slow or partially-applied migration run shows up
// alongside the other [startup] log lines.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	start := time.Now()

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, "migrations/"+e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		fileStart := time.Now()
		sqlBytes, err := migrationsFS.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := db.Exec(ctx, string(sqlBytes)); err != nil {
			slog.Error("store: migration failed", "file", f, "error", err)
			return fmt.Errorf("migration %s failed: %w", f, err)
		}
		slog.Info("store: migration applied", "file", f, "duration", time.Since(fileStart))
	}

	slog.Info("store: migrations complete", "count", len(files), "duration", time.Since(start))
	return nil
}

package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"family-alert-go/pkg/logger"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationLockKey serialises migrations across instances sharing a database.
const migrationLockKey int64 = 0x66616d616c657274

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, in filename order, while holding a session advisory lock.
func Migrate(ctx context.Context, db *gorm.DB, log logger.Logger) error {
	return db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(?)", migrationLockKey).Error; err != nil {
			return fmt.Errorf("migration lock: %w", err)
		}
		defer func() {
			if err := conn.Exec("SELECT pg_advisory_unlock(?)", migrationLockKey).Error; err != nil {
				log.InternalError("db: release migration lock failed", err)
			}
		}()

		applied, err := applyPending(conn, migrationFiles)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			log.Info("db: migrations applied", "files", applied)
		}
		return nil
	})
}

func applyPending(conn *gorm.DB, files fs.FS) ([]string, error) {
	if err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`).Error; err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var done []string
	if err := conn.Raw("SELECT filename FROM schema_migrations").Scan(&done).Error; err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	seen := make(map[string]struct{}, len(done))
	for _, name := range done {
		seen[name] = struct{}{}
	}

	paths, err := fs.Glob(files, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var applied []string
	for _, path := range paths {
		name := strings.TrimPrefix(path, "migrations/")
		if _, ok := seen[name]; ok {
			continue
		}

		contents, err := fs.ReadFile(files, path)
		if err != nil {
			return applied, err
		}
		statement := strings.TrimSpace(string(contents))

		err = conn.Transaction(func(tx *gorm.DB) error {
			if statement != "" {
				if err := tx.Exec(statement).Error; err != nil {
					return fmt.Errorf("apply migration %s: %w", name, err)
				}
			}
			return tx.Exec(
				"INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)",
				name, time.Now().UTC(),
			).Error
		})
		if err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}
